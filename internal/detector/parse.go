package detector

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lexiqai/scene-assistant/internal/scene"
)

// parseDetections converts the detector reply
//
//	{"objects": [{"labels": [{"text": "cat", "confidence": 0.93}]}]}
//
// into a DetectionResult. Labels are sorted by descending confidence; labels
// without text are dropped and an object may end up with no labels.
func parseDetections(reply *structpb.Struct) (scene.DetectionResult, error) {
	if reply == nil {
		return scene.DetectionResult{}, fmt.Errorf("%w: empty reply", ErrMalformedResponse)
	}

	objectsValue, ok := reply.GetFields()["objects"]
	if !ok {
		return scene.DetectionResult{}, fmt.Errorf("%w: missing objects", ErrMalformedResponse)
	}
	if _, isNull := objectsValue.GetKind().(*structpb.Value_NullValue); isNull {
		return scene.DetectionResult{}, nil
	}
	list := objectsValue.GetListValue()
	if list == nil {
		return scene.DetectionResult{}, fmt.Errorf("%w: objects is not a list", ErrMalformedResponse)
	}

	result := scene.DetectionResult{Objects: make([]scene.DetectedObject, 0, len(list.GetValues()))}
	for i, v := range list.GetValues() {
		obj := v.GetStructValue()
		if obj == nil {
			return scene.DetectionResult{}, fmt.Errorf("%w: object %d is not a struct", ErrMalformedResponse, i)
		}
		labels, err := parseLabels(obj)
		if err != nil {
			return scene.DetectionResult{}, fmt.Errorf("%w: object %d: %v", ErrMalformedResponse, i, err)
		}
		result.Objects = append(result.Objects, scene.DetectedObject{Labels: labels})
	}
	return result, nil
}

func parseLabels(obj *structpb.Struct) ([]scene.Label, error) {
	labelsValue, ok := obj.GetFields()["labels"]
	if !ok {
		return nil, nil
	}
	list := labelsValue.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("labels is not a list")
	}

	labels := make([]scene.Label, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		l := v.GetStructValue()
		if l == nil {
			return nil, fmt.Errorf("label is not a struct")
		}
		text := strings.TrimSpace(l.GetFields()["text"].GetStringValue())
		if text == "" {
			continue
		}
		labels = append(labels, scene.Label{
			Text:       text,
			Confidence: l.GetFields()["confidence"].GetNumberValue(),
		})
	}

	slices.SortStableFunc(labels, func(a, b scene.Label) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})
	return labels, nil
}

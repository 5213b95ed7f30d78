package detector

import (
	"errors"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"
)

func TestParseDetections(t *testing.T) {
	tests := []struct {
		name      string
		reply     map[string]interface{}
		wantTops  []string
		wantError bool
	}{
		{
			name:     "empty list",
			reply:    map[string]interface{}{"objects": []interface{}{}},
			wantTops: []string{},
		},
		{
			name:     "null objects",
			reply:    map[string]interface{}{"objects": nil},
			wantTops: nil,
		},
		{
			name: "labels resorted",
			reply: map[string]interface{}{"objects": []interface{}{
				map[string]interface{}{"labels": []interface{}{
					map[string]interface{}{"text": "chair", "confidence": 0.2},
					map[string]interface{}{"text": "stool", "confidence": 0.7},
				}},
				map[string]interface{}{"labels": []interface{}{
					map[string]interface{}{"text": "dog", "confidence": 0.8},
				}},
			}},
			wantTops: []string{"stool", "dog"},
		},
		{
			name: "object without labels",
			reply: map[string]interface{}{"objects": []interface{}{
				map[string]interface{}{},
			}},
			wantTops: []string{"object"},
		},
		{
			name: "blank label dropped",
			reply: map[string]interface{}{"objects": []interface{}{
				map[string]interface{}{"labels": []interface{}{
					map[string]interface{}{"text": "  ", "confidence": 0.99},
					map[string]interface{}{"text": "cup", "confidence": 0.5},
				}},
			}},
			wantTops: []string{"cup"},
		},
		{
			name:      "missing objects",
			reply:     map[string]interface{}{},
			wantError: true,
		},
		{
			name:      "objects not a list",
			reply:     map[string]interface{}{"objects": "cat"},
			wantError: true,
		},
		{
			name:      "object not a struct",
			reply:     map[string]interface{}{"objects": []interface{}{"cat"}},
			wantError: true,
		},
		{
			name: "labels not a list",
			reply: map[string]interface{}{"objects": []interface{}{
				map[string]interface{}{"labels": "cat"},
			}},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, err := structpb.NewStruct(tt.reply)
			if err != nil {
				t.Fatalf("Failed to build reply: %v", err)
			}

			result, err := parseDetections(reply)
			if tt.wantError {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Errorf("Expected ErrMalformedResponse, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if len(result.Objects) != len(tt.wantTops) {
				t.Fatalf("Expected %d objects, got %d", len(tt.wantTops), len(result.Objects))
			}
			for i, want := range tt.wantTops {
				if got := result.Objects[i].TopLabel(); got != want {
					t.Errorf("Object %d: expected %s, got %s", i, want, got)
				}
			}
		})
	}
}

func TestParseDetections_Nil(t *testing.T) {
	if _, err := parseDetections(nil); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("Expected ErrMalformedResponse, got %v", err)
	}
}

func TestParseDetections_ConfidenceOrder(t *testing.T) {
	reply, _ := structpb.NewStruct(map[string]interface{}{"objects": []interface{}{
		map[string]interface{}{"labels": []interface{}{
			map[string]interface{}{"text": "a", "confidence": 0.1},
			map[string]interface{}{"text": "b", "confidence": 0.9},
			map[string]interface{}{"text": "c", "confidence": 0.5},
		}},
	}})

	result, err := parseDetections(reply)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	labels := result.Objects[0].Labels
	for i := 1; i < len(labels); i++ {
		if labels[i-1].Confidence < labels[i].Confidence {
			t.Errorf("Expected descending confidence, got %+v", labels)
		}
	}
	if labels[0].Text != "b" {
		t.Errorf("Expected b first, got %s", labels[0].Text)
	}
}

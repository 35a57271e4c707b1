package services

import "testing"

func TestResolveField(t *testing.T) {
	payload := map[string]interface{}{
		"candidate": map[string]interface{}{
			"name":   "Ana",
			"email":  nil,
			"skills": []interface{}{"Python", "Go"},
			"profile": map[string]interface{}{
				"city": "Lisboa",
			},
		},
		"match_score": 87.5,
	}

	tests := []struct {
		name      string
		path      string
		wantFound bool
		want      interface{}
	}{
		{"top level", "match_score", true, 87.5},
		{"nested", "candidate.name", true, "Ana"},
		{"deeply nested", "candidate.profile.city", true, "Lisboa"},
		{"missing leaf", "candidate.phone", false, nil},
		{"missing root", "job.title", false, nil},
		{"path through scalar", "candidate.name.first", false, nil},
		{"empty path", "", false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := ResolveField(payload, tt.path)
			if found != tt.wantFound {
				t.Fatalf("found = %v, want %v", found, tt.wantFound)
			}
			if tt.wantFound && got != tt.want {
				t.Errorf("value = %v, want %v", got, tt.want)
			}
		})
	}
}

// 字段存在但值为 nil：found 为 true，与缺失字段不同
func TestResolveField_PresentNil(t *testing.T) {
	payload := map[string]interface{}{
		"candidate": map[string]interface{}{"email": nil},
	}
	got, found := ResolveField(payload, "candidate.email")
	if !found {
		t.Fatal("expected found=true for present nil value")
	}
	if got != nil {
		t.Errorf("value = %v, want nil", got)
	}
}

func TestResolveField_ArrayIsWholeValue(t *testing.T) {
	payload := map[string]interface{}{
		"candidate": map[string]interface{}{
			"skills": []interface{}{"Python"},
		},
	}
	got, found := ResolveField(payload, "candidate.skills")
	if !found {
		t.Fatal("expected skills to resolve")
	}
	items, ok := got.([]interface{})
	if !ok || len(items) != 1 {
		t.Errorf("expected whole slice, got %v", got)
	}
	// 没有下标语法
	if _, found := ResolveField(payload, "candidate.skills.0"); found {
		t.Error("index path should not resolve")
	}
}

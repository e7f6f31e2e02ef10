package utils

import (
	"testing"

	"leadflow/models"
)

func TestRenderMessage(t *testing.T) {
	lead := &models.Lead{
		Name:      "Ada Lovelace",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Phone:     "+5511999990000",
		Email:     "ada@example.com",
		Company:   "Analytical Engines",
	}

	tests := []struct {
		name     string
		template string
		want     string
		wantErr  bool
	}{
		{
			name:     "no placeholders",
			template: "Hello there!",
			want:     "Hello there!",
		},
		{
			name:     "single placeholder",
			template: "Hi {lead_name}",
			want:     "Hi Ada Lovelace",
		},
		{
			name:     "multiple placeholders",
			template: "{first_name} from {company}, reach us at {phone}",
			want:     "Ada from Analytical Engines, reach us at +5511999990000",
		},
		{
			name:     "unknown placeholder",
			template: "Hi {nickname}",
			wantErr:  true,
		},
		{
			name:     "unclosed brace passes through",
			template: "emoji brace { is fine",
			want:     "emoji brace { is fine",
		},
		{
			name:     "empty field renders empty",
			template: "x{email}y",
			want:     "xada@example.comy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RenderMessage(tt.template, lead)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("RenderMessage(%q) = %q, want error", tt.template, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("RenderMessage(%q) failed: %v", tt.template, err)
			}
			if got != tt.want {
				t.Errorf("RenderMessage(%q) = %q, want %q", tt.template, got, tt.want)
			}
		})
	}
}

package ws

import "testing"

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		frame    string
		wantType string
		wantCode string
	}{
		{"valid", `{"v":1,"type":"conversation.list"}`, "conversation.list", ""},
		{"invalid json", `{not json`, "", ErrInvalidJSON},
		{"non-object", `[1,2,3]`, "", ErrInvalidJSON},
		{"missing v", `{"type":"x"}`, "", ErrInvalidEnvelope},
		{"missing type", `{"v":1}`, "", ErrInvalidEnvelope},
		{"v not integer", `{"v":"1","type":"x"}`, "", ErrInvalidEnvelope},
		{"type not string", `{"v":1,"type":7}`, "", ErrInvalidEnvelope},
		{"unsupported version", `{"v":2,"type":"x"}`, "", ErrUnsupportedVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, code, err := parseEnvelope([]byte(tt.frame))
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("parseEnvelope(%s) error = %v", tt.frame, err)
				}
				if env.Type != tt.wantType {
					t.Errorf("type = %q, want %q", env.Type, tt.wantType)
				}
				return
			}
			if err == nil {
				t.Fatalf("parseEnvelope(%s) succeeded, want code %s", tt.frame, tt.wantCode)
			}
			if code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

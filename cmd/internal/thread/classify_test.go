package thread

import "testing"

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		in     string
		kind   Kind
		wantID string
	}{
		{name: "uuid", in: "0b7f6c2a-3d44-4c1e-8f00-5e2a9b1c7d10", kind: KindConversation, wantID: "0b7f6c2a-3d44-4c1e-8f00-5e2a9b1c7d10"},
		{name: "upper uuid normalized", in: "0B7F6C2A-3D44-4C1E-8F00-5E2A9B1C7D10", kind: KindConversation, wantID: "0b7f6c2a-3d44-4c1e-8f00-5e2a9b1c7d10"},
		{name: "padded uuid", in: "  0b7f6c2a-3d44-4c1e-8f00-5e2a9b1c7d10 ", kind: KindConversation, wantID: "0b7f6c2a-3d44-4c1e-8f00-5e2a9b1c7d10"},
		{name: "ulid person", in: "01HZZZZZZZZZZZZZZZZZZZZZZZ", kind: KindPerson, wantID: "01HZZZZZZZZZZZZZZZZZZZZZZZ"},
		{name: "numeric person", in: "42", kind: KindPerson, wantID: "42"},
		{name: "unhyphenated uuid is a person", in: "0b7f6c2a3d444c1e8f005e2a9b1c7d10", kind: KindPerson, wantID: "0b7f6c2a3d444c1e8f005e2a9b1c7d10"},
		{name: "braced uuid is a person", in: "{0b7f6c2a-3d44-4c1e-8f00-5e2a9b1c7d10}", kind: KindPerson, wantID: "{0b7f6c2a-3d44-4c1e-8f00-5e2a9b1c7d10}"},
		{name: "empty", in: "", kind: KindPerson, wantID: ""},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Classify(tc.in)
			if got.Kind != tc.kind || got.ID != tc.wantID {
				t.Fatalf("Classify(%q)=%v/%q want=%v/%q", tc.in, got.Kind, got.ID, tc.kind, tc.wantID)
			}
		})
	}
}

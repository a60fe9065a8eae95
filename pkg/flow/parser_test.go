package flow

import "testing"

const weatherFlow = `
# main conversation loop
if input is None or not input.matches(requests.default):
  status = 400
  response = ['error']
else:
  status = 200
  response = [
    'success',
    "inject_rule(rule='Always cite the observation time')",
  ]
`

func TestParseProgram(t *testing.T) {
	program, err := ParseProgram(weatherFlow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if program.Invalid.Status != 400 {
		t.Errorf("expected invalid status 400, got %d", program.Invalid.Status)
	}
	if program.Valid.Status != 200 {
		t.Errorf("expected valid status 200, got %d", program.Valid.Status)
	}
	if len(program.Invalid.Entries) != 1 || program.Invalid.Entries[0].Label != "error" {
		t.Errorf("unexpected invalid entries: %+v", program.Invalid.Entries)
	}
	if len(program.Valid.Entries) != 2 {
		t.Fatalf("expected 2 valid entries, got %d", len(program.Valid.Entries))
	}
	if program.Valid.Entries[0].Label != "success" {
		t.Errorf("expected first valid entry to be the success label")
	}
	call := program.Valid.Entries[1].Call
	if call == nil || call.Target() != "inject_rule" {
		t.Errorf("expected second valid entry to be an inject_rule call, got %+v", program.Valid.Entries[1])
	}
}

func TestParseProgramSwappedBranches(t *testing.T) {
	// The 400-coded arm is the invalid one regardless of predicate polarity.
	src := `
if input is not None:
  status = 200
  response = ['success']
else:
  status = 400
  response = ['error']
`
	program, err := ParseProgram(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if program.Invalid.Status != 400 || program.Valid.Status != 200 {
		t.Errorf("branches misclassified: invalid=%d valid=%d",
			program.Invalid.Status, program.Valid.Status)
	}
}

func TestParseProgramNoFourHundred(t *testing.T) {
	// When neither branch carries 400 the then-branch is the failure arm.
	src := `
if input is None:
  status = 422
  response = ['rejected']
else:
  status = 200
  response = ['success']
`
	program, err := ParseProgram(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if program.Invalid.Status != 422 || program.Valid.Status != 200 {
		t.Errorf("branches misclassified: invalid=%d valid=%d",
			program.Invalid.Status, program.Valid.Status)
	}
}

func TestParseProgramRejections(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"empty", "  \n# only a comment\n"},
		{"no if", "status = 200\nresponse = ['x']\n"},
		{"predicate ignores input", "if weather is None:\n  status = 400\n  response = ['e']\nelse:\n  status = 200\n  response = ['s']\n"},
		{"no else", "if input is None:\n  status = 400\n  response = ['e']\n"},
		{"both 400", "if input is None:\n  status = 400\n  response = ['e']\nelse:\n  status = 400\n  response = ['e']\n"},
		{"no status", "if input is None:\n  response = ['e']\nelse:\n  status = 200\n  response = ['s']\n"},
		{"no response list", "if input is None:\n  status = 400\nelse:\n  status = 200\n  response = ['s']\n"},
		{"empty response list", "if input is None:\n  status = 400\n  response = []\nelse:\n  status = 200\n  response = ['s']\n"},
		{"unterminated list", "if input is None:\n  status = 400\n  response = ['e'\nelse:\n  status = 200\n  response = ['s']\n"},
		{"bad entry", "if input is None:\n  status = 400\n  response = ['not a label!']\nelse:\n  status = 200\n  response = ['s']\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseProgram(tt.src); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestNewIncludesCallerLocation(t *testing.T) {
	err := New("bad value %d", 42)
	if !strings.HasPrefix(err.Error(), "[errors_test.go:") {
		t.Errorf("expected caller prefix, got %q", err.Error())
	}
	if !strings.HasSuffix(err.Error(), "bad value 42") {
		t.Errorf("expected formatted message, got %q", err.Error())
	}
}

func TestWrapfNil(t *testing.T) {
	if Wrapf(nil, "context") != nil {
		t.Error("Wrapf(nil) should return nil")
	}
	if Collaborator(nil, "context") != nil {
		t.Error("Collaborator(nil) should return nil")
	}
}

func TestClassOf(t *testing.T) {
	base := stderrors.New("boom")

	testCases := []struct {
		name string
		err  error
		want Class
	}{
		{"Plain", base, ClassUnknown},
		{"Wrapped", Wrapf(base, "ctx"), ClassUnknown},
		{"CallerState", CallerState("empty log"), ClassCallerState},
		{"Collaborator", Collaborator(base, "search failed"), ClassCollaborator},
		{"UserInput", UserInput("no input"), ClassUserInput},
		{"WrappedCollaborator", Wrapf(Collaborator(base, "llm"), "turn"), ClassCollaborator},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassOf(tc.err); got != tc.want {
				t.Errorf("ClassOf() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCollaboratorUnwraps(t *testing.T) {
	base := stderrors.New("timeout")
	err := Collaborator(base, "search failed")
	if !Is(err, base) {
		t.Error("expected wrapped error to match base")
	}
	if !strings.Contains(err.Error(), "search failed: timeout") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

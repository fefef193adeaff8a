package ui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/loqalabs/loqa-polly/internal/controller"
)

func typeInto(f FormModel, s string) FormModel {
	f, _ = f.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	return f
}

func TestFormSubmitRequiresBothFields(t *testing.T) {
	f := NewFormModel("", "")
	f = typeInto(f, "AKIA")
	f, _ = f.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if f.Done() {
		t.Fatal("form must stay open with an empty secret")
	}
	if f.hint == "" {
		t.Fatal("expected a hint")
	}

	f, _ = f.Update(tea.KeyMsg{Type: tea.KeyTab})
	f = typeInto(f, " shh ")
	f, _ = f.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if !f.Done() {
		t.Fatal("expected form submitted")
	}
	r := f.Result()
	if !r.Confirmed || r.Key != "AKIA" || r.Secret != "shh" {
		t.Fatalf("unexpected result %+v", r)
	}
}

func TestFormEscCancels(t *testing.T) {
	f := NewFormModel("AKIA", "secret")
	f, _ = f.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if !f.Done() || f.Result().Confirmed {
		t.Fatalf("expected cancelled result, got %+v", f.Result())
	}
}

func TestFormCancelButton(t *testing.T) {
	f := NewFormModel("AKIA", "secret")
	for i := 0; i < 3; i++ {
		f, _ = f.Update(tea.KeyMsg{Type: tea.KeyTab})
	}
	f, _ = f.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if !f.Done() || f.Result().Confirmed {
		t.Fatalf("expected cancel button to dismiss, got %+v", f.Result())
	}
}

func TestFormSeededValuesSubmit(t *testing.T) {
	f := NewFormModel("AKIA", "secret")
	f, _ = f.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if r := f.Result(); !r.Confirmed || r.Key != "AKIA" || r.Secret != "secret" {
		t.Fatalf("unexpected result %+v", r)
	}
}

func TestSecretIsMasked(t *testing.T) {
	f := NewFormModel("AKIA", "topsecret")
	if got := f.View(); strings.Contains(got, "topsecret") {
		t.Fatal("secret rendered in clear text")
	}
}

func TestHeadlessPrompterNeverConfirms(t *testing.T) {
	r, err := HeadlessPrompter{}.Prompt(context.Background(), "a", "b")
	if err != nil || r.Confirmed {
		t.Fatalf("unexpected result %+v %v", r, err)
	}
}

func TestBridgeWithoutProgramReturnsImmediately(t *testing.T) {
	var b ProgramBridge
	r, err := b.Prompt(context.Background(), "", "")
	if err != nil || r.Confirmed {
		t.Fatalf("unexpected result %+v %v", r, err)
	}
	b.Notify(context.Background(), controller.Notice{Message: "x"})
}

func TestPasteText(t *testing.T) {
	if _, err := PasteText(nil); err != ErrClipboardEmpty {
		t.Fatalf("expected ErrClipboardEmpty, got %v", err)
	}
	got, err := PasteText(func() (string, error) { return "hello", nil })
	if err != nil || got != "hello" {
		t.Fatalf("unexpected paste %q %v", got, err)
	}
	got, err = PasteText(func() (string, error) { return " \n", nil })
	if err != nil || got != " \n" {
		t.Fatalf("whitespace paste: got %q %v", got, err)
	}
	if _, err := PasteText(func() (string, error) { return "", nil }); err != ErrClipboardEmpty {
		t.Fatalf("expected ErrClipboardEmpty, got %v", err)
	}
}

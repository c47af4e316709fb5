package smtp

import (
	"strings"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input    string
		expected *Command
		hasError bool
	}{
		{
			input:    "HELO example.com",
			expected: &Command{Name: "HELO", Args: []string{"example.com"}},
		},
		{
			input:    "MAIL FROM:<user@example.com>",
			expected: &Command{Name: "MAIL", Args: []string{"FROM:<user@example.com>"}},
		},
		{
			input:    "RCPT TO:<recipient@example.com>",
			expected: &Command{Name: "RCPT", Args: []string{"TO:<recipient@example.com>"}},
		},
		{
			input:    "DATA",
			expected: &Command{Name: "DATA", Args: []string{}},
		},
		{
			input:    "AUTH PLAIN dGVzdA==",
			expected: &Command{Name: "AUTH", Args: []string{"PLAIN", "dGVzdA=="}},
		},
		{
			input:    "MAIL FROM:<user@example.com> SIZE=1024",
			expected: &Command{Name: "MAIL", Args: []string{"FROM:<user@example.com>", "SIZE=1024"}},
		},
		{input: "", hasError: true},
		{input: "   ", hasError: true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			cmd, err := ParseCommand(test.input)
			if test.hasError {
				if err == nil {
					t.Fatalf("expected error for input %q", test.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for input %q: %v", test.input, err)
			}
			if cmd.Name != test.expected.Name {
				t.Errorf("name = %q, want %q", cmd.Name, test.expected.Name)
			}
			if len(cmd.Args) != len(test.expected.Args) {
				t.Fatalf("args = %v, want %v", cmd.Args, test.expected.Args)
			}
			for i, arg := range cmd.Args {
				if arg != test.expected.Args[i] {
					t.Errorf("arg[%d] = %q, want %q", i, arg, test.expected.Args[i])
				}
			}
		})
	}
}

func TestCommandIsValid(t *testing.T) {
	tests := []struct {
		command  *Command
		expected bool
	}{
		{&Command{Name: "HELO"}, true},
		{&Command{Name: "EHLO"}, true},
		{&Command{Name: "MAIL"}, true},
		{&Command{Name: "RCPT"}, true},
		{&Command{Name: "DATA"}, true},
		{&Command{Name: "QUIT"}, true},
		{&Command{Name: "AUTH"}, true},
		{&Command{Name: "STARTTLS"}, true},
		{&Command{Name: "RSET"}, true},
		{&Command{Name: "NOOP"}, true},
		{&Command{Name: "VRFY"}, true},
		{&Command{Name: "BDAT"}, false},
		{&Command{Name: "INVALID"}, false},
		{&Command{Name: ""}, false},
		{&Command{Name: "helo"}, false},
	}

	for _, test := range tests {
		t.Run(test.command.Name, func(t *testing.T) {
			if got := test.command.IsValid(); got != test.expected {
				t.Errorf("IsValid() = %v, want %v", got, test.expected)
			}
		})
	}
}

func TestCommandValidateArgs(t *testing.T) {
	tests := []struct {
		command  *Command
		hasError bool
	}{
		{&Command{Name: "HELO", Args: []string{"example.com"}}, false},
		{&Command{Name: "HELO", Args: []string{}}, true},
		{&Command{Name: "EHLO", Args: []string{"example.com"}}, false},
		{&Command{Name: "EHLO", Args: []string{}}, true},
		{&Command{Name: "MAIL", Args: []string{"FROM:<user@example.com>"}}, false},
		{&Command{Name: "MAIL", Args: []string{}}, true},
		{&Command{Name: "MAIL", Args: []string{"TO:<user@example.com>"}}, true},
		{&Command{Name: "RCPT", Args: []string{"TO:<user@example.com>"}}, false},
		{&Command{Name: "RCPT", Args: []string{}}, true},
		{&Command{Name: "RCPT", Args: []string{"FROM:<user@example.com>"}}, true},
		{&Command{Name: "AUTH", Args: []string{"PLAIN"}}, false},
		{&Command{Name: "AUTH", Args: []string{}}, true},
		{&Command{Name: "DATA", Args: []string{}}, false},
		{&Command{Name: "QUIT", Args: []string{}}, false},
		{&Command{Name: "RSET", Args: []string{}}, false},
		{&Command{Name: "NOOP", Args: []string{}}, false},
		{&Command{Name: "STARTTLS", Args: []string{}}, false},
		{&Command{Name: "VRFY", Args: []string{}}, true},
		{&Command{Name: "VRFY", Args: []string{"user@example.com"}}, false},
	}

	for _, test := range tests {
		t.Run(test.command.Name, func(t *testing.T) {
			err := test.command.ValidateArgs()
			if test.hasError && err == nil {
				t.Errorf("expected error for args %v", test.command.Args)
			}
			if !test.hasError && err != nil {
				t.Errorf("unexpected error for args %v: %v", test.command.Args, err)
			}
		})
	}
}

func TestCommandEdgeCases(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		hasError bool
	}{
		{"tab separator", "HELO\texample.com", false},
		{"multiple spaces", "HELO     example.com", false},
		{"trailing spaces", "HELO example.com   ", false},
		{"leading spaces", "   HELO example.com", false},
		{"long hostname", "HELO " + strings.Repeat("a", 1000) + ".com", false},
		{"IPv6 literal", "HELO [::1]", false},
		{"only command name", "QUIT", false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cmd, err := ParseCommand(test.input)
			if test.hasError {
				if err == nil {
					t.Errorf("expected error for input %q", test.input)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error for input %q: %v", test.input, err)
			}
			if cmd == nil {
				t.Errorf("expected command for input %q", test.input)
			}
		})
	}
}

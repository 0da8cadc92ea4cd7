package cmdline

import (
	"errors"
	"reflect"
	"testing"
)

// =============================================================================
// Tokenization Tests
// =============================================================================

// TestTokenize_Simple verifies plain word splitting.
func TestTokenize_Simple(t *testing.T) {
	tokens, err := Tokenize("aws ec2 describe-instances")
	if err != nil {
		t.Fatalf("Tokenize should succeed: %v", err)
	}
	want := []string{"aws", "ec2", "describe-instances"}
	if !reflect.DeepEqual(tokens, want) {
		t.Errorf("got %v, want %v", tokens, want)
	}
}

// TestTokenize_Quotes verifies single and double quotes group words without
// any expansion.
func TestTokenize_Quotes(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{`aws s3 cp "my file.txt" s3://bucket`, []string{"aws", "s3", "cp", "my file.txt", "s3://bucket"}},
		{`az vm list --query '[?name=="web server"]'`, []string{"az", "vm", "list", "--query", `[?name=="web server"]`}},
		{`grep 'a b'`, []string{"grep", "a b"}},
		{`echo "it's fine"`, []string{"echo", "it's fine"}},
		{`grep "$notexpanded"`, []string{"grep", "$notexpanded"}},
	}
	for _, tc := range cases {
		tokens, err := Tokenize(tc.in)
		if err != nil {
			t.Errorf("Tokenize(%q) failed: %v", tc.in, err)
			continue
		}
		if !reflect.DeepEqual(tokens, tc.want) {
			t.Errorf("Tokenize(%q) = %v, want %v", tc.in, tokens, tc.want)
		}
	}
}

// TestTokenize_RejectsMetacharacters verifies shell control operators
// outside quotes fail the parse instead of being interpreted.
func TestTokenize_RejectsMetacharacters(t *testing.T) {
	cases := []string{
		"aws ec2 describe-instances; rm -rf /",
		"aws s3 ls & whoami",
		"aws iam list-users `id`",
		"aws sts get-caller-identity $(cat /etc/passwd)",
		"aws ec2 describe-instances > /tmp/out",
		"aws ec2 describe-instances < /tmp/in",
	}
	for _, in := range cases {
		if _, err := Tokenize(in); !errors.Is(err, ErrMetacharacter) {
			t.Errorf("Tokenize(%q) = %v, want ErrMetacharacter", in, err)
		}
	}
}

// TestTokenize_MetacharactersInsideQuotesAreLiteral verifies quoted
// metacharacters are inert data, not operators.
func TestTokenize_MetacharactersInsideQuotesAreLiteral(t *testing.T) {
	tokens, err := Tokenize(`grep "a;b&c"`)
	if err != nil {
		t.Fatalf("quoted metacharacters should be literal: %v", err)
	}
	if tokens[1] != "a;b&c" {
		t.Errorf("got %q, want %q", tokens[1], "a;b&c")
	}
}

// TestTokenize_UnbalancedQuotes verifies dangling quotes are rejected.
func TestTokenize_UnbalancedQuotes(t *testing.T) {
	for _, in := range []string{`aws s3 cp "unterminated`, `grep 'also bad`} {
		if _, err := Tokenize(in); !errors.Is(err, ErrUnbalancedQuotes) {
			t.Errorf("Tokenize(%q) = %v, want ErrUnbalancedQuotes", in, err)
		}
	}
}

// TestTokenize_Empty verifies empty input is rejected.
func TestTokenize_Empty(t *testing.T) {
	for _, in := range []string{"", "   ", "\t"} {
		if _, err := Tokenize(in); !errors.Is(err, ErrEmptyCommand) {
			t.Errorf("Tokenize(%q) = %v, want ErrEmptyCommand", in, err)
		}
	}
}

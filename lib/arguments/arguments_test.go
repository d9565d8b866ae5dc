// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package arguments

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/skolbin-ssi/azure-pipelines-agent/lib/execution"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/stepenv"
)

type publication struct {
	area, feature string
	data          map[string]any
}

type recordingTelemetry struct {
	mu           sync.Mutex
	publications []publication
}

func (r *recordingTelemetry) Publish(area, feature string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publications = append(r.publications, publication{area, feature, data})
}

type recordingLog struct {
	mu       sync.Mutex
	warnings []string
}

func (l *recordingLog) Output(string, string) {}
func (l *recordingLog) Issue(_ string, issue execution.Issue) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnings = append(l.warnings, issue.Message)
}
func (l *recordingLog) AddMask(string) {}

func newTestSanitizer(t *testing.T, flags Flags, dialect Dialect) (*Sanitizer, *recordingTelemetry, *recordingLog) {
	t.Helper()
	job := execution.NewJob(nil)
	telemetry := &recordingTelemetry{}
	log := &recordingLog{}
	job.Telemetry = telemetry
	job.Log = log
	return &Sanitizer{
		Flags:         flags,
		Dialect:       dialect,
		Context:       job.NewStep("test", nil),
		TempDirectory: t.TempDir(),
		newID:         func() string { return "0123ABCD" },
	}, telemetry, log
}

func testTable() *stepenv.Table {
	table := stepenv.NewTable()
	table.Set("NAME", "world")
	table.Set("DIR", "/tmp/out dir")
	table.Set("EMPTY", "")
	return table
}

func TestFlags_Mode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		flags   Flags
		disable bool
		want    Mode
	}{
		{"nothing enabled", Flags{}, true, ModeInline},
		{"secure without disable", Flags{SecureArguments: true}, false, ModeInline},
		{"file args", Flags{SecureArguments: true}, true, ModeFileArgs},
		{"new logic wins over secure", Flags{SecureArguments: true, NewLogic: true}, true, ModeValidated},
		{"new logic alone", Flags{NewLogic: true}, false, ModeValidated},
		{"audit alone", Flags{SecureArgumentsAudit: true}, true, ModeInline},
	}
	for _, test := range tests {
		if got := test.flags.Mode(test.disable); got != test.want {
			t.Errorf("%s: Mode() = %s, want %s", test.name, got, test.want)
		}
	}
}

func TestExpand_Posix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		args      string
		want      string
		expanded  int
		escaped   int
		unresolve int
	}{
		{"plain", "--verbose", "--verbose", 0, 0, 0},
		{"simple", "hello $NAME", "hello world", 1, 0, 0},
		{"braced", "${NAME}s", "worlds", 1, 0, 0},
		{"unresolved", "$MISSING x", "$MISSING x", 0, 0, 1},
		{"dollar escape", "$$NAME", "$NAME", 0, 1, 0},
		{"backslash escape", `\$NAME`, "$NAME", 0, 1, 0},
		{"value with space", "--out=$DIR", "--out=/tmp/out dir", 1, 0, 0},
		{"empty value", "[$EMPTY]", "[]", 1, 0, 0},
		{"trailing dollar", "cost$", "cost$", 0, 0, 0},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			got, telemetry := Expand(test.args, testTable(), DialectPosix)
			if got != test.want {
				t.Errorf("Expand(%q) = %q, want %q", test.args, got, test.want)
			}
			if telemetry.VariablesExpanded != test.expanded {
				t.Errorf("VariablesExpanded = %d, want %d", telemetry.VariablesExpanded, test.expanded)
			}
			if telemetry.EscapedReferences != test.escaped {
				t.Errorf("EscapedReferences = %d, want %d", telemetry.EscapedReferences, test.escaped)
			}
			if telemetry.UnresolvedReferences != test.unresolve {
				t.Errorf("UnresolvedReferences = %d, want %d", telemetry.UnresolvedReferences, test.unresolve)
			}
		})
	}
}

func TestExpand_PosixSuspicious(t *testing.T) {
	t.Parallel()

	got, telemetry := Expand("a $(whoami) `id` ${NAME", testTable(), DialectPosix)
	if got != "a $(whoami) `id` ${NAME" {
		t.Errorf("suspicious text altered: %q", got)
	}
	if telemetry.UnclosedBraces != 1 {
		t.Errorf("UnclosedBraces = %d", telemetry.UnclosedBraces)
	}
	for _, pattern := range []string{"$(", "`"} {
		found := false
		for _, suspicious := range telemetry.Suspicious {
			found = found || suspicious == pattern
		}
		if !found {
			t.Errorf("pattern %q not flagged in %v", pattern, telemetry.Suspicious)
		}
	}

	_, telemetry = Expand(`"unterminated`, testTable(), DialectPosix)
	if !telemetry.UnclosedQuotes {
		t.Error("unclosed quote not detected")
	}
}

func TestExpand_Cmd(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args string
		want string
	}{
		{"simple", "hello %NAME%", "hello world"},
		{"case insensitive", "%name%!", "world!"},
		{"escaped", "100%% done", "100% done"},
		{"unresolved keeps closing percent", "%NOPE%NAME%", "%NOPEworld"},
		{"substring left alone", "%NAME:~0,2%", "%NAME:~0,2%"},
		{"lone percent", "50% off", "50% off"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			got, _ := Expand(test.args, testTable(), DialectCmd)
			if got != test.want {
				t.Errorf("Expand(%q) = %q, want %q", test.args, got, test.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		args      string
		dialect   Dialect
		construct string
	}{
		{"clean posix", `--name "a b" 'c;d' $NAME`, DialectPosix, ""},
		{"chain", "a && rm -rf /", DialectPosix, "&"},
		{"semicolon", "a; b", DialectPosix, ";"},
		{"pipe", "a | nc host 1", DialectPosix, "|"},
		{"substitution in double quotes", `"$(id)"`, DialectPosix, "$("},
		{"backtick", "`id`", DialectPosix, "`"},
		{"redirect", "a > /etc/passwd", DialectPosix, ">"},
		{"newline", "a\nb", DialectPosix, "\n"},
		{"escaped semicolon", `a\; b`, DialectPosix, ""},
		{"single quoted substitution", `'$(id)'`, DialectPosix, ""},
		{"secret reference", "--token=$SECRET_TOKEN", DialectPosix, "$SECRET_TOKEN"},
		{"braced secret reference", "${ENDPOINT_AUTH_abc}", DialectPosix, "${ENDPOINT_AUTH_abc}"},
		{"clean cmd", `/p:"a & b" %NAME%`, DialectCmd, ""},
		{"cmd chain", "a & del *", DialectCmd, "&"},
		{"cmd delayed expansion", "!PATH!", DialectCmd, "!PATH!"},
		{"cmd substring", "%PATH:~0,3%", DialectCmd, "%PATH:~0,3%"},
		{"cmd secret", "%secret_token%", DialectCmd, "%secret_token%"},
		{"cmd caret escape", "a ^& b", DialectCmd, ""},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(test.args, test.dialect)
			if test.construct == "" {
				if err != nil {
					t.Fatalf("Validate(%q) = %v, want nil", test.args, err)
				}
				return
			}
			var validationErr *execution.ArgumentValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("Validate(%q) = %v, want ArgumentValidationError", test.args, err)
			}
			if validationErr.Construct != test.construct {
				t.Errorf("Construct = %q, want %q", validationErr.Construct, test.construct)
			}
			if !strings.HasPrefix(test.args[validationErr.Offset:], validationErr.Construct) {
				t.Errorf("Offset %d does not point at %q", validationErr.Offset, validationErr.Construct)
			}
		})
	}
}

func TestPrepare_Inline(t *testing.T) {
	t.Parallel()

	sanitizer, telemetry, _ := newTestSanitizer(t, Flags{Telemetry: true}, DialectPosix)
	prepared, err := sanitizer.Prepare("echo", "$NAME; ls", testTable(), false)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if prepared.Mode != ModeInline || prepared.Arguments != "$NAME; ls" {
		t.Errorf("prepared = %+v", prepared)
	}
	if len(telemetry.publications) != 0 {
		t.Errorf("inline mode published telemetry: %v", telemetry.publications)
	}
}

func TestPrepare_FileArgs(t *testing.T) {
	t.Parallel()

	sanitizer, telemetry, _ := newTestSanitizer(t, Flags{SecureArguments: true, Telemetry: true}, DialectPosix)
	table := testTable()
	raw := "--greeting=$NAME; rm -rf /"
	prepared, err := sanitizer.Prepare("/usr/bin/tool", raw, table, true)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	if prepared.Mode != ModeFileArgs {
		t.Fatalf("Mode = %s", prepared.Mode)
	}
	wantWords := []string{"--greeting=world;", "rm", "-rf", "/"}
	if len(prepared.Variables) != len(wantWords) {
		t.Fatalf("Variables = %q, want %d entries", prepared.Variables, len(wantWords))
	}
	for index, variable := range prepared.Variables {
		if want := fmt.Sprintf("AGENT_TEMP_INPUT_ARGS_0123ABCD_%d", index); variable != want {
			t.Errorf("Variables[%d] = %q, want %q", index, variable, want)
		}
		if got := table.Get(variable); got != wantWords[index] {
			t.Errorf("%s = %q, want %q", variable, got, wantWords[index])
		}
	}
	if prepared.Arguments != "" {
		t.Errorf("file-args mode must not pass inline arguments, got %q", prepared.Arguments)
	}

	content, err := os.ReadFile(prepared.Script)
	if err != nil {
		t.Fatalf("reading script: %v", err)
	}
	if filepath.Base(prepared.Script) != "processHandlerScript_0123ABCD.sh" {
		t.Errorf("script name = %q", filepath.Base(prepared.Script))
	}
	want := "#!/bin/sh\nset -f\n/usr/bin/tool" +
		` "${AGENT_TEMP_INPUT_ARGS_0123ABCD_0}" "${AGENT_TEMP_INPUT_ARGS_0123ABCD_1}"` +
		` "${AGENT_TEMP_INPUT_ARGS_0123ABCD_2}" "${AGENT_TEMP_INPUT_ARGS_0123ABCD_3}"` + "\n"
	if string(content) != want {
		t.Errorf("script = %q, want %q", content, want)
	}
	if strings.Contains(string(content), "world") {
		t.Error("expanded text spliced into the script")
	}

	if len(telemetry.publications) != 1 {
		t.Fatalf("expected one publication, got %d", len(telemetry.publications))
	}
	published := telemetry.publications[0]
	if published.feature != TelemetryFeatureExpansion || published.data["variablesExpanded"] != 1 {
		t.Errorf("publication = %+v", published)
	}
	if published.data["digest"] != Digest(raw) {
		t.Error("digest missing from telemetry")
	}
	for _, value := range published.data {
		if text, ok := value.(string); ok && strings.Contains(text, "greeting") {
			t.Errorf("raw argument text leaked into telemetry: %q", text)
		}
	}

	if err := prepared.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(prepared.Script); !os.IsNotExist(err) {
		t.Errorf("script still present after cleanup: %v", err)
	}
}

func TestPrepare_FileArgsQuotingAndLiveEnvironment(t *testing.T) {
	t.Parallel()

	sanitizer, _, _ := newTestSanitizer(t, Flags{SecureArguments: true}, DialectPosix)
	sanitizer.Context.Live.Set("HOME", "/home/builder")
	table := testTable()
	prepared, err := sanitizer.Prepare("printf", `'[%s]\n' "a b" $HOME "$DIR" $(touch pwned)`, table, true)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	want := []string{`[%s]\n`, "a b", "/home/builder", "/tmp/out dir", "$(touch", "pwned)"}
	var got []string
	for _, variable := range prepared.Variables {
		got = append(got, table.Get(variable))
	}
	if !slices.Equal(got, want) {
		t.Errorf("argument words = %q, want %q", got, want)
	}

	content, err := os.ReadFile(prepared.Script)
	if err != nil {
		t.Fatalf("reading script: %v", err)
	}
	for _, variable := range prepared.Variables {
		if !strings.Contains(string(content), `"${`+variable+`}"`) {
			t.Errorf("script does not quote %s: %q", variable, content)
		}
	}
	if strings.Contains(string(content), "/home/builder") {
		t.Error("expanded text spliced into the script")
	}
}

func TestSplitWords(t *testing.T) {
	t.Parallel()

	environment := testTable()
	environment.Set("SPACED", "one  two")
	environment.Set("HOME", "/home/builder")

	tests := []struct {
		name string
		args string
		want []string
	}{
		{"plain", "a b\tc\nd", []string{"a", "b", "c", "d"}},
		{"double quotes keep blanks", `"a b" c`, []string{"a b", "c"}},
		{"single quotes are literal", `'$NAME "x"'`, []string{`$NAME "x"`}},
		{"adjacent segments join", `pre"$NAME"'!'post`, []string{"pre" + "world" + "!post"}},
		{"unquoted value is split", "$SPACED", []string{"one", "two"}},
		{"quoted value is kept", `"$SPACED"`, []string{"one  two"}},
		{"braced reference", "${HOME}/bin", []string{"/home/builder/bin"}},
		{"unresolved stays literal", "$MISSING ${ALSO_MISSING}", []string{"$MISSING", "${ALSO_MISSING}"}},
		{"unquoted empty value vanishes", "a $EMPTY b", []string{"a", "b"}},
		{"quoted empty value is a word", `a "$EMPTY" b`, []string{"a", "", "b"}},
		{"empty quotes are a word", `'' ""`, []string{"", ""}},
		{"command substitution is literal", "$(touch pwned) `id`", []string{"$(touch", "pwned)", "`id`"}},
		{"glob is literal", "*.go", []string{"*.go"}},
		{"backslash escapes a blank", `a\ b`, []string{"a b"}},
		{"backslash in double quotes", `"\$NAME \"q\" \n"`, []string{`$NAME "q" \n`}},
		{"line continuation", "a\\\nb", []string{"ab"}},
		{"escaped dollar", "$$NAME", []string{"$NAME"}},
		{"unclosed quote runs to end", `a "b c`, []string{"a", "b c"}},
		{"only blanks", "  \t ", nil},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			got := SplitWords(test.args, environment)
			if !slices.Equal(got, test.want) {
				t.Errorf("SplitWords(%q) = %q, want %q", test.args, got, test.want)
			}
		})
	}
}

func TestPrepare_FileArgsCmdScript(t *testing.T) {
	t.Parallel()

	sanitizer, _, _ := newTestSanitizer(t, Flags{SecureArguments: true}, DialectCmd)
	prepared, err := sanitizer.Prepare(`"C:\a b\run.cmd"`, "%NAME%", testTable(), true)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	content, err := os.ReadFile(prepared.Script)
	if err != nil {
		t.Fatalf("reading script: %v", err)
	}
	if !strings.Contains(string(content), `"C:\a b\run.cmd" !AGENT_TEMP_INPUT_ARGS_0123ABCD!`) {
		t.Errorf("script does not reference the variable indirectly: %q", content)
	}
	if !strings.HasSuffix(prepared.Script, ".cmd") {
		t.Errorf("script = %q", prepared.Script)
	}
}

func TestPrepare_AuditOnly(t *testing.T) {
	t.Parallel()

	sanitizer, _, log := newTestSanitizer(t, Flags{SecureArgumentsAudit: true}, DialectPosix)
	prepared, err := sanitizer.Prepare("echo", "$NAME", testTable(), true)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if prepared.Mode != ModeInline || prepared.Arguments != "$NAME" {
		t.Errorf("audit changed execution: %+v", prepared)
	}
	if prepared.Expansion == nil || prepared.Expansion.VariablesExpanded != 1 {
		t.Errorf("Expansion = %+v", prepared.Expansion)
	}
	if len(log.warnings) != 1 || !strings.Contains(log.warnings[0], "world") {
		t.Errorf("warnings = %v", log.warnings)
	}
}

func TestPrepare_ValidatedRejects(t *testing.T) {
	t.Parallel()

	sanitizer, telemetry, _ := newTestSanitizer(t, Flags{NewLogic: true, SecureArguments: true, Telemetry: true}, DialectPosix)
	table := testTable()
	prepared, err := sanitizer.Prepare("echo", "ok && curl evil", table, true)
	if !execution.IsArgumentValidationError(err) {
		t.Fatalf("expected ArgumentValidationError, got %v", err)
	}
	if prepared != nil {
		t.Errorf("expected no prepared invocation, got %+v", prepared)
	}
	for _, key := range table.Keys() {
		if strings.HasPrefix(key, VariablePrefix) {
			t.Error("validated mode wrote a private variable")
		}
	}
	if len(telemetry.publications) != 1 || telemetry.publications[0].data["rejected"] != true {
		t.Errorf("publications = %+v", telemetry.publications)
	}
}

func TestPrepare_ValidatorFailureIsNonBlocking(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		validator func(string, Dialect) error
	}{
		{"panic", func(string, Dialect) error { panic("validator bug") }},
		{"internal error", func(string, Dialect) error { return errors.New("state table corrupt") }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			sanitizer, telemetry, _ := newTestSanitizer(t, Flags{NewLogic: true}, DialectPosix)
			sanitizer.validator = test.validator

			prepared, err := sanitizer.Prepare("echo", "a && b", testTable(), false)
			if err != nil {
				t.Fatalf("validator failure should not fail the step, got %v", err)
			}
			if prepared.Arguments != "a && b" {
				t.Errorf("Arguments = %q", prepared.Arguments)
			}
			if len(telemetry.publications) != 1 {
				t.Fatalf("expected one telemetry publication, got %d", len(telemetry.publications))
			}
			if kind := telemetry.publications[0].data["errorKind"]; kind != string(execution.KindUnexpectedValidation) {
				t.Errorf("errorKind = %v", kind)
			}
		})
	}
}

func TestDigest_Stable(t *testing.T) {
	t.Parallel()

	if Digest("a") != Digest("a") {
		t.Error("digest not deterministic")
	}
	if Digest("a") == Digest("b") {
		t.Error("distinct inputs share a digest")
	}
	if len(Digest("")) != 64 {
		t.Errorf("digest length = %d", len(Digest("")))
	}
}

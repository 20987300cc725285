package support

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/mapwarp/internal/testutil"
)

// splitCommand splits a command line on whitespace, keeping single- or
// double-quoted runs together.
func splitCommand(command string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		quote   rune
		started bool
	)
	for _, r := range command {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)
		case r == '"' || r == '\'':
			quote = r
			started = true
		case r == ' ' || r == '\t':
			if started {
				args = append(args, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in %q", command)
	}
	if started {
		args = append(args, cur.String())
	}
	return args, nil
}

// iRunCommand executes a command and stores the result.
func (testCtx *TestContext) iRunCommand(command string) error {
	return testCtx.runCommand(command, "")
}

// iRunCommandWithInput executes a command with the doc string as stdin.
func (testCtx *TestContext) iRunCommandWithInput(command string, input *godog.DocString) error {
	return testCtx.runCommand(command, testCtx.substitute(input.Content))
}

func (testCtx *TestContext) runCommand(command, stdin string) error {
	command = testCtx.substitute(command)
	testCtx.LastCommand = command
	testCtx.LastStartTime = time.Now()

	parts, err := splitCommand(command)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return errors.New("empty command")
	}
	if parts[0] == "mapwarp" {
		if bin := os.Getenv("MAPWARP_BIN"); bin != "" {
			parts[0] = bin
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = testCtx.TempDir
	cmd.Env = append(os.Environ(), testCtx.EnvVars...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	// Logs go to stderr; JSON steps read stdout alone.
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err = cmd.Run()
	testCtx.LastStdout = stdout.String()
	testCtx.LastOutput = stdout.String() + stderr.String()
	testCtx.LastError = err
	testCtx.LastDuration = time.Since(testCtx.LastStartTime)

	if err != nil {
		exitError := &exec.ExitError{}
		if errors.As(err, &exitError) {
			testCtx.LastExitCode = exitError.ExitCode()
		} else {
			testCtx.LastExitCode = -1
		}
	} else {
		testCtx.LastExitCode = 0
	}
	return nil
}

// theCommandShouldSucceed verifies the command succeeded.
func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastExitCode != 0 {
		return fmt.Errorf("command failed with exit code %d: %w\nOutput: %s",
			testCtx.LastExitCode, testCtx.LastError, testCtx.LastOutput)
	}
	return nil
}

// theCommandShouldFail verifies the command failed.
func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastExitCode == 0 {
		return fmt.Errorf("command succeeded when it should have failed\nOutput: %s", testCtx.LastOutput)
	}
	return nil
}

// theOutputShouldContain verifies the output contains specific text.
func (testCtx *TestContext) theOutputShouldContain(expectedText string) error {
	expectedText = testCtx.substitute(expectedText)
	if !strings.Contains(testCtx.LastOutput, expectedText) {
		return fmt.Errorf("output does not contain '%s'\nActual output: %s", expectedText, testCtx.LastOutput)
	}
	return nil
}

// theOutputShouldNotContain verifies the output lacks specific text.
func (testCtx *TestContext) theOutputShouldNotContain(text string) error {
	if strings.Contains(testCtx.LastOutput, text) {
		return fmt.Errorf("output unexpectedly contains '%s'\nActual output: %s", text, testCtx.LastOutput)
	}
	return nil
}

// theErrorShouldMention verifies the error output contains specific text,
// case-insensitively.
func (testCtx *TestContext) theErrorShouldMention(errorText string) error {
	if testCtx.LastError == nil && testCtx.LastExitCode == 0 {
		return fmt.Errorf("no error occurred, but expected error containing '%s'", errorText)
	}
	full := testCtx.LastOutput
	if testCtx.LastError != nil {
		full += " " + testCtx.LastError.Error()
	}
	if !strings.Contains(strings.ToLower(full), strings.ToLower(errorText)) {
		return fmt.Errorf("error does not contain '%s'\nActual error: %s", errorText, full)
	}
	return nil
}

// extractJSON returns the JSON document in s, skipping any preceding text.
func extractJSON(s string) (string, error) {
	s = strings.TrimSpace(s)
	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return "", fmt.Errorf("no JSON found in output: %s", s)
	}
	return s[start:], nil
}

func parseJSON(s string) (any, error) {
	doc, err := extractJSON(s)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		return nil, fmt.Errorf("output is not valid JSON: %w\nJSON part: %s", err, doc)
	}
	return v, nil
}

// lookupJSON follows a dotted path through objects and arrays, where array
// steps are indexes ("results.0.kind").
func lookupJSON(v any, path string) (any, error) {
	cur := v
	for i, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("field '%s' not found in JSON", strings.Join(strings.Split(path, ".")[:i+1], "."))
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("invalid array index '%s' in path %s", part, path)
			}
			cur = node[idx]
		default:
			return nil, fmt.Errorf("cannot navigate into non-container at '%s'", part)
		}
	}
	return cur, nil
}

func jsonString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		bts, _ := json.Marshal(t)
		return string(bts)
	}
}

func checkJSONField(doc, field, want string) error {
	v, err := parseJSON(doc)
	if err != nil {
		return err
	}
	got, err := lookupJSON(v, field)
	if err != nil {
		return err
	}
	if s := jsonString(got); s != want {
		return fmt.Errorf("JSON field %s = %s, want %s", field, s, want)
	}
	return nil
}

func checkJSONNumber(doc, field string, want float64) error {
	v, err := parseJSON(doc)
	if err != nil {
		return err
	}
	got, err := lookupJSON(v, field)
	if err != nil {
		return err
	}
	f, ok := got.(float64)
	if !ok {
		return fmt.Errorf("JSON field %s is %T, not a number", field, got)
	}
	if d := f - want; d > 1e-6 || d < -1e-6 {
		return fmt.Errorf("JSON field %s = %v, want %v", field, f, want)
	}
	return nil
}

// theOutputShouldBeValidJSON verifies the output is valid JSON.
func (testCtx *TestContext) theOutputShouldBeValidJSON() error {
	_, err := parseJSON(testCtx.LastStdout)
	return err
}

// theJSONShouldContain verifies the output JSON has a field.
func (testCtx *TestContext) theJSONShouldContain(field string) error {
	v, err := parseJSON(testCtx.LastStdout)
	if err != nil {
		return err
	}
	_, err = lookupJSON(v, field)
	return err
}

func (testCtx *TestContext) theJSONFieldShouldBe(field, want string) error {
	return checkJSONField(testCtx.LastStdout, field, testCtx.substitute(want))
}

func (testCtx *TestContext) theJSONNumberShouldBe(field string, want float64) error {
	return checkJSONNumber(testCtx.LastStdout, field, want)
}

// aMapSheetImageExistsAt writes a generated map sheet of the given size.
func (testCtx *TestContext) aMapSheetImageExistsAt(width, height int, name string) error {
	cfg := testutil.DefaultMapSheetConfig()
	cfg.Size = testutil.ImageSize{Width: width, Height: height}
	return testutil.WriteImage(testCtx.TempPath(name), testutil.GenerateMapSheet(cfg))
}

// aSolidImageExistsAt writes a single-color image filled with hex.
func (testCtx *TestContext) aSolidImageExistsAt(width, height int, hex, name string) error {
	c, err := parseHex(hex)
	if err != nil {
		return err
	}
	return testutil.WriteImage(testCtx.TempPath(name), testutil.Solid(width, height, c))
}

func parseHex(s string) (color.NRGBA, error) {
	s = strings.TrimPrefix(s, "#")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil || len(s) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q (want #rrggbb)", s)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

// anInfoJSONExistsAt writes an IIIF Image Information document.
func (testCtx *TestContext) anInfoJSONExistsAt(width, height int, name string) error {
	doc := fmt.Sprintf(`{"@context":"http://iiif.io/api/image/3/context.json","id":"https://iiif.example/sheet","type":"ImageService3","protocol":"http://iiif.io/api/image","width":%d,"height":%d}`, width, height)
	path := testCtx.TempPath(name)
	if err := testutil.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(doc), 0o600)
}

// theFileShouldExist checks a file in the scenario temp directory.
func (testCtx *TestContext) theFileShouldExist(name string) error {
	if !testutil.FileExists(testCtx.TempPath(name)) {
		return fmt.Errorf("expected file %s to exist", name)
	}
	return nil
}

// theImageShouldHaveSize checks the decoded dimensions of an image file.
func (testCtx *TestContext) theImageShouldHaveSize(name string, width, height int) error {
	img, err := testutil.LoadImageFile(testCtx.TempPath(name))
	if err != nil {
		return err
	}
	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		return fmt.Errorf("image %s is %dx%d, want %dx%d", name, b.Dx(), b.Dy(), width, height)
	}
	return nil
}

// thePixelShouldBe checks one opaque pixel of an image file.
func (testCtx *TestContext) thePixelShouldBe(x, y int, name, hex string) error {
	want, err := parseHex(hex)
	if err != nil {
		return err
	}
	img, err := testutil.LoadImageFile(testCtx.TempPath(name))
	if err != nil {
		return err
	}
	got := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
	if got != want {
		return fmt.Errorf("pixel (%d,%d) of %s is %v, want %v", x, y, name, got, want)
	}
	return nil
}

// theEnvironmentVariableIsSet sets a variable for subsequent commands.
func (testCtx *TestContext) theEnvironmentVariableIsSet(name, value string) error {
	testCtx.AddEnvVar(name, testCtx.substitute(value))
	return nil
}

// RegisterCommonSteps registers all common step definitions.
func (testCtx *TestContext) RegisterCommonSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the mapwarp binary is built$`, func() error {
		if os.Getenv("MAPWARP_BIN") == "" {
			return errors.New("MAPWARP_BIN is not set")
		}
		return nil
	})
	sc.Step(`^a (\d+)x(\d+) map sheet image exists at "([^"]*)"$`, testCtx.aMapSheetImageExistsAt)
	sc.Step(`^a (\d+)x(\d+) image filled with "([^"]*)" exists at "([^"]*)"$`, testCtx.aSolidImageExistsAt)
	sc.Step(`^an info\.json for a (\d+)x(\d+) image exists at "([^"]*)"$`, testCtx.anInfoJSONExistsAt)
	sc.Step(`^the environment variable "([^"]*)" is "([^"]*)"$`, testCtx.theEnvironmentVariableIsSet)

	sc.Step(`^I run "([^"]*)"$`, testCtx.iRunCommand)
	sc.Step(`^I run '([^']*)'$`, testCtx.iRunCommand)
	sc.Step(`^I run "([^"]*)" with input:$`, testCtx.iRunCommandWithInput)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)

	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should not contain "([^"]*)"$`, testCtx.theOutputShouldNotContain)
	sc.Step(`^the error should mention "([^"]*)"$`, testCtx.theErrorShouldMention)
	sc.Step(`^the output should be valid JSON$`, testCtx.theOutputShouldBeValidJSON)
	sc.Step(`^the JSON should contain "([^"]*)"$`, testCtx.theJSONShouldContain)
	sc.Step(`^the JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theJSONFieldShouldBe)
	sc.Step(`^the JSON number "([^"]*)" should be (-?[\d.]+)$`, testCtx.theJSONNumberShouldBe)

	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
	sc.Step(`^the image "([^"]*)" should be (\d+)x(\d+)$`, testCtx.theImageShouldHaveSize)
	sc.Step(`^the pixel (\d+),(\d+) of "([^"]*)" should be "([^"]*)"$`, testCtx.thePixelShouldBe)
}

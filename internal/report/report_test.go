package report

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/quara-dev/repo/pkg/models"
)

func result(name string, status models.Status) models.Result {
	return models.Result{
		Name:     name,
		Action:   "test",
		Status:   status,
		Duration: 1500 * time.Millisecond,
	}
}

func TestSummary_Outcome(t *testing.T) {
	discErr := &models.DiscoveryError{RelPath: "libraries/broken", Err: errors.New("bad toml")}

	tests := []struct {
		name     string
		results  []models.Result
		errs     []*models.DiscoveryError
		wantOK   bool
		wantCode int
	}{
		{"all passed", []models.Result{result("a", models.StatusPassed), result("b", models.StatusPassed)}, nil, true, 0},
		{"one failed", []models.Result{result("a", models.StatusPassed), result("b", models.StatusFailed)}, nil, false, 1},
		{"error", []models.Result{result("a", models.StatusError)}, nil, false, 1},
		{"skipped is not success", []models.Result{result("a", models.StatusSkipped)}, nil, false, 1},
		{"discovery error", []models.Result{result("a", models.StatusPassed)}, []*models.DiscoveryError{discErr}, false, 1},
		{"empty run", nil, nil, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.results, tt.errs)
			if s.OK() != tt.wantOK {
				t.Errorf("OK() = %v, want %v", s.OK(), tt.wantOK)
			}
			if s.ExitCode() != tt.wantCode {
				t.Errorf("ExitCode() = %d, want %d", s.ExitCode(), tt.wantCode)
			}
		})
	}
}

func TestSummary_CountsAndFailed(t *testing.T) {
	s := New([]models.Result{
		result("a", models.StatusPassed),
		result("b", models.StatusFailed),
		result("c", models.StatusPassed),
		result("d", models.StatusSkipped),
	}, nil)

	if s.Counts[models.StatusPassed] != 2 || s.Counts[models.StatusFailed] != 1 || s.Counts[models.StatusSkipped] != 1 {
		t.Errorf("unexpected counts %v", s.Counts)
	}
	var failed []string
	for _, r := range s.Failed() {
		failed = append(failed, r.Name)
	}
	if strings.Join(failed, ",") != "b,d" {
		t.Errorf("Failed() = %v, want [b d]", failed)
	}
}

func TestRender_ListsEveryPackage(t *testing.T) {
	s := New([]models.Result{
		result("quara-core", models.StatusPassed),
		{Name: "quara-redis", Action: "test", Status: models.StatusFailed, Error: "test exited with code 1"},
		result("api", models.StatusPassed),
	}, []*models.DiscoveryError{{RelPath: "plugins/broken", Err: errors.New("missing [tool.poetry] section")}})
	s.Action = "test"

	var buf bytes.Buffer
	if err := s.Render(&buf, RenderOptions{NoColor: true, ShowErrors: true}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"Summary: test",
		"quara-core",
		"quara-redis",
		"api",
		"plugins/broken",
		"test exited with code 1",
		"missing [tool.poetry] section",
		"FAILED  2 passed, 1 failed, 1 discovery error(s)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("no-color output contains escape codes:\n%q", out)
	}

	// Packages keep their run order.
	if strings.Index(out, "quara-core") > strings.Index(out, "quara-redis") ||
		strings.Index(out, "quara-redis") > strings.Index(out, "  api ") {
		t.Errorf("packages out of order:\n%s", out)
	}
}

func TestRender_Success(t *testing.T) {
	s := New([]models.Result{result("a", models.StatusPassed)}, nil)
	s.Duration = 3 * time.Second

	var buf bytes.Buffer
	if err := s.Render(&buf, RenderOptions{NoColor: true}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "OK  1 passed in 3s") {
		t.Errorf("unexpected totals line:\n%s", buf.String())
	}
}

func TestRender_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := New(nil, nil).Render(&buf, RenderOptions{NoColor: true}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "OK  no packages") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}

func TestRender_Artifacts(t *testing.T) {
	r := result("core", models.StatusPassed)
	r.Artifacts = []string{"/out/core-1.0.whl", "/out/core-1.0.tar.gz"}
	s := New([]models.Result{r}, nil)
	s.OutputDir = "/out"

	var buf bytes.Buffer
	if err := s.Render(&buf, RenderOptions{NoColor: true}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "2 artifact(s) in /out") {
		t.Errorf("artifacts not reported:\n%s", buf.String())
	}
}

func TestWriteYAML(t *testing.T) {
	s := New([]models.Result{
		result("a", models.StatusPassed),
		{Name: "b", Action: "test", Status: models.StatusFailed, ExitCode: 1, Step: "test", Output: []byte("secret output")},
	}, []*models.DiscoveryError{{RelPath: "libraries/c", Err: errors.New("bad toml")}})
	s.RunID = "run-42"
	s.Action = "test"

	path := filepath.Join(t.TempDir(), "reports", "run.yaml")
	if err := s.WriteYAML(path); err != nil {
		t.Fatalf("WriteYAML failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "secret output") {
		t.Error("captured output must not be written to the report")
	}

	var got struct {
		RunID   string `yaml:"run_id"`
		OK      bool   `yaml:"ok"`
		Results []struct {
			Package  string `yaml:"package"`
			Status   string `yaml:"status"`
			ExitCode int    `yaml:"exit_code"`
		} `yaml:"results"`
		DiscoveryErrors []struct {
			Path  string `yaml:"path"`
			Error string `yaml:"error"`
		} `yaml:"discovery_errors"`
	}
	if err := yaml.Unmarshal(data, &got); err != nil {
		t.Fatalf("report is not valid YAML: %v", err)
	}
	if got.RunID != "run-42" || got.OK {
		t.Errorf("unexpected header: %+v", got)
	}
	if len(got.Results) != 2 || got.Results[1].Package != "b" || got.Results[1].Status != "failed" || got.Results[1].ExitCode != 1 {
		t.Errorf("unexpected results: %+v", got.Results)
	}
	if len(got.DiscoveryErrors) != 1 || got.DiscoveryErrors[0].Path != "libraries/c" {
		t.Errorf("unexpected discovery errors: %+v", got.DiscoveryErrors)
	}
}

package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/vaultharness/internal/env"
	"github.com/roach88/vaultharness/internal/harness"
)

// LoadMode controls how errors are handled while loading a directory.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadError is an error tied to a file of a scenario or fixture directory.
type LoadError struct {
	Code    string
	Path    string
	Message string
}

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No files found
	ErrCodeLoadFailed  = "E004" // File could not be read or parsed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeWriteFailed = "E007" // File write error

	// Scenario and fixture errors
	ErrCodeInvalidScenario  = "E101" // Scenario failed validation
	ErrCodeInvalidFixture   = "E102" // Fixture failed the schema
	ErrCodeMissingFixture   = "E103" // Scenario names a fixture that does not exist
	ErrCodeDuplicateName    = "E104" // Two scenarios share a name
	ErrCodeDuplicateRunID   = "E105" // Two scenarios share a fixed run id
	ErrCodeGoldenMismatch   = "E201" // Trace differs from the golden file
	ErrCodeScenarioFailed   = "E202" // Expectation or assertion failed
	ErrCodeScenarioAborted  = "E203" // Run stopped early
	ErrCodeRunNotFound      = "E301" // No such run in the run log
	ErrCodeNonDeterministic = "E302" // Replayed trace differs from the recorded one
)

// ScenarioFile is a scenario together with the file it came from.
type ScenarioFile struct {
	Path     string
	Scenario *harness.Scenario
}

// checkDir returns a LoadError unless dir is an existing directory.
func checkDir(dir, what string) *LoadError {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s directory not found: %s", what, dir)}
	}
	if err != nil {
		return &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing %s directory: %v", what, err)}
	}
	if !info.IsDir() {
		return &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}
	return nil
}

// FindScenarioFiles walks dir for .yaml and .yml files whose base name
// matches filter, a glob. The golden directory is skipped.
func FindScenarioFiles(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && d.Name() == goldenDirName {
				return filepath.SkipDir
			}
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})
	return files, err
}

// FindFixtureFiles walks dir for .cue files.
func FindFixtureFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// LoadScenarios loads every scenario file under dir that matches filter.
// Files that fail to load are reported as errors. Scenario names and
// fixed run ids must be unique across the directory.
func LoadScenarios(dir, filter string, mode LoadMode) ([]ScenarioFile, []error) {
	if lerr := checkDir(dir, "scenarios"); lerr != nil {
		return nil, []error{lerr}
	}

	paths, err := FindScenarioFiles(dir, filter)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}

	var (
		files  []ScenarioFile
		errs   []error
		names  = make(map[string]string)
		runIDs = make(map[string]string)
	)
	for _, path := range paths {
		scenario, err := harness.LoadScenario(path)
		if err != nil {
			code := ErrCodeInvalidScenario
			if errors.Is(err, fs.ErrNotExist) {
				code = ErrCodeLoadFailed
			}
			errs = append(errs, &LoadError{Code: code, Path: path, Message: err.Error()})
			if mode == LoadModeFailFast {
				return files, errs
			}
			continue
		}

		if prev, ok := names[scenario.Name]; ok {
			errs = append(errs, &LoadError{
				Code: ErrCodeDuplicateName, Path: path,
				Message: fmt.Sprintf("scenario name %q already used by %s", scenario.Name, prev),
			})
		}
		names[scenario.Name] = path
		if scenario.RunID != "" {
			if prev, ok := runIDs[scenario.RunID]; ok {
				errs = append(errs, &LoadError{
					Code: ErrCodeDuplicateRunID, Path: path,
					Message: fmt.Sprintf("run_id %q already used by %s", scenario.RunID, prev),
				})
			}
			runIDs[scenario.RunID] = path
		}
		if mode == LoadModeFailFast && len(errs) > 0 {
			return files, errs
		}

		files = append(files, ScenarioFile{Path: path, Scenario: scenario})
	}
	return files, errs
}

// LoadFixtures loads every fixture under dir, keyed by file name, the
// way scenarios look them up.
func LoadFixtures(dir string, mode LoadMode) (map[string]*env.Fixture, []error) {
	if lerr := checkDir(dir, "fixtures"); lerr != nil {
		return nil, []error{lerr}
	}

	paths, err := FindFixtureFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(paths) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	fixtures := make(map[string]*env.Fixture)
	var errs []error
	for _, path := range paths {
		f, err := env.LoadFixture(path)
		if err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeInvalidFixture, Path: path, Message: err.Error()})
			if mode == LoadModeFailFast {
				return fixtures, errs
			}
			continue
		}
		fixtures[filepath.Base(path)] = f
	}
	return fixtures, errs
}

// checkFixtureRefs reports scenarios whose fixture is not among fixtures.
func checkFixtureRefs(files []ScenarioFile, fixtures map[string]*env.Fixture) []error {
	var errs []error
	for _, sf := range files {
		name := filepath.Base(sf.Scenario.Fixture)
		if _, ok := fixtures[name]; !ok {
			errs = append(errs, &LoadError{
				Code: ErrCodeMissingFixture, Path: sf.Path,
				Message: fmt.Sprintf("fixture %s not found", name),
			})
		}
	}
	return errs
}

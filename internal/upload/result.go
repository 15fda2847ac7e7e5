// Package upload selects pending survey records, ships them to OpenCelliD and
// BeaconDB, and folds the per-target outcomes into one decision per run.
package upload

import (
	"encoding/json"
	"fmt"
	"strings"

	"networksurvey/uploader/internal/model"
)

// Result is the pipeline-level outcome for one target. The zero value is
// ResultNotStarted.
type Result int

const (
	ResultNotStarted Result = iota
	ResultUploadDisabled
	ResultPartiallySucceeded
	ResultSuccess
	ResultNoData
	ResultCancelled
	ResultDeleteFailed
	ResultFailure
	ResultInvalidData
	ResultInvalidAPIKey
	ResultConnectionError
	ResultServerError
	ResultPermissionDenied
	ResultLimitExceeded
)

var resultNames = map[Result]string{
	ResultNotStarted:         "not_started",
	ResultUploadDisabled:     "upload_disabled_for_target",
	ResultPartiallySucceeded: "partially_succeeded",
	ResultSuccess:            "success",
	ResultNoData:             "no_data",
	ResultCancelled:          "cancelled",
	ResultDeleteFailed:       "delete_failed",
	ResultFailure:            "failure",
	ResultInvalidData:        "invalid_data",
	ResultInvalidAPIKey:      "invalid_api_key",
	ResultConnectionError:    "connection_error",
	ResultServerError:        "server_error",
	ResultPermissionDenied:   "permission_denied",
	ResultLimitExceeded:      "limit_exceeded",
}

// AllResults lists every Result from most to least severe.
func AllResults() []Result {
	return []Result{
		ResultLimitExceeded,
		ResultPermissionDenied,
		ResultServerError,
		ResultConnectionError,
		ResultInvalidAPIKey,
		ResultInvalidData,
		ResultFailure,
		ResultDeleteFailed,
		ResultCancelled,
		ResultNoData,
		ResultSuccess,
		ResultPartiallySucceeded,
		ResultUploadDisabled,
		ResultNotStarted,
	}
}

func (r Result) String() string {
	if n, ok := resultNames[r]; ok {
		return n
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// ParseResult is the inverse of String.
func ParseResult(s string) (Result, error) {
	for r, n := range resultNames {
		if n == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown upload result %q", s)
}

// Severity ranks results for merging: a higher value is more severe. The order
// is total; it panics on values outside the enum.
func (r Result) Severity() int {
	switch r {
	case ResultLimitExceeded:
		return 13
	case ResultPermissionDenied:
		return 12
	case ResultServerError:
		return 11
	case ResultConnectionError:
		return 10
	case ResultInvalidAPIKey:
		return 9
	case ResultInvalidData:
		return 8
	case ResultFailure:
		return 7
	case ResultDeleteFailed:
		return 6
	case ResultCancelled:
		return 5
	case ResultNoData:
		return 4
	case ResultSuccess:
		return 3
	case ResultPartiallySucceeded:
		return 2
	case ResultUploadDisabled:
		return 1
	case ResultNotStarted:
		return 0
	default:
		panic(fmt.Sprintf("upload: severity of unknown result %d", int(r)))
	}
}

// MoreSevere returns whichever of a and b ranks higher.
func MoreSevere(a, b Result) Result {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// SuccessEquivalent is true for results that count as a pass for marking and deletion.
func (r Result) SuccessEquivalent() bool {
	switch r {
	case ResultSuccess, ResultPartiallySucceeded, ResultUploadDisabled:
		return true
	default:
		return false
	}
}

// Failed is true for results that stop a run.
func (r Result) Failed() bool {
	switch r {
	case ResultNotStarted, ResultNoData:
		return false
	default:
		return !r.SuccessEquivalent()
	}
}

// Transient is true for failures worth retrying later.
func (r Result) Transient() bool {
	switch r {
	case ResultServerError, ResultConnectionError, ResultFailure:
		return true
	default:
		return false
	}
}

// Message is a short user-facing summary.
func (r Result) Message() string {
	switch r {
	case ResultLimitExceeded:
		return "Upload limit exceeded"
	case ResultPermissionDenied:
		return "Permission denied"
	case ResultServerError:
		return "Server error"
	case ResultConnectionError:
		return "Connection error"
	case ResultInvalidAPIKey:
		return "Invalid API key"
	case ResultInvalidData:
		return "Invalid data"
	case ResultFailure:
		return "Upload failed"
	case ResultDeleteFailed:
		return "Cleanup failed"
	case ResultCancelled:
		return "Upload cancelled"
	case ResultNoData:
		return "Nothing to upload"
	case ResultSuccess:
		return "Upload complete"
	case ResultPartiallySucceeded:
		return "Upload partially complete"
	case ResultUploadDisabled:
		return "Upload disabled"
	default:
		return "Upload not started"
	}
}

// Description is the longer explanation shown next to Message.
func (r Result) Description(target model.UploadTarget) string {
	name := target.DisplayName()
	switch r {
	case ResultLimitExceeded:
		return fmt.Sprintf("%s rejected the upload because the submission limit was reached. Try again later.", name)
	case ResultPermissionDenied:
		return "The uploader is not allowed to read the survey records."
	case ResultServerError:
		return fmt.Sprintf("%s returned a server error. The records are kept and will be retried.", name)
	case ResultConnectionError:
		return fmt.Sprintf("Could not reach %s. Check the network connection; the records are kept.", name)
	case ResultInvalidAPIKey:
		return fmt.Sprintf("%s rejected the API key. Update the key or enable anonymous upload.", name)
	case ResultInvalidData:
		return fmt.Sprintf("%s rejected the request as malformed.", name)
	case ResultFailure:
		return fmt.Sprintf("The upload to %s failed unexpectedly.", name)
	case ResultDeleteFailed:
		return "The records were uploaded but could not be removed from the local store."
	case ResultCancelled:
		return "The upload was stopped before it finished. Remaining records will be sent next time."
	case ResultNoData:
		return "There were no survey records waiting for upload."
	case ResultSuccess:
		return fmt.Sprintf("All pending records were sent to %s.", name)
	case ResultPartiallySucceeded:
		return fmt.Sprintf("Some records were sent to %s.", name)
	case ResultUploadDisabled:
		return fmt.Sprintf("Uploading to %s is turned off.", name)
	default:
		return fmt.Sprintf("No upload to %s has run yet.", name)
	}
}

// Bundle holds one Result per upload target. The zero value has every target
// at ResultNotStarted.
type Bundle struct {
	results [model.TargetCount]Result
}

// Get returns the result for target.
func (b *Bundle) Get(target model.UploadTarget) Result {
	return b.results[target]
}

// Set overwrites the result for target.
func (b *Bundle) Set(target model.UploadTarget, r Result) {
	b.results[target] = r
}

// Merge keeps, per target, the more severe of b's and other's results.
func (b *Bundle) Merge(other Bundle) {
	for i := range b.results {
		b.results[i] = MoreSevere(b.results[i], other.results[i])
	}
}

// SetAll sets every target to r.
func (b *Bundle) SetAll(r Result) {
	for i := range b.results {
		b.results[i] = r
	}
}

// SetAllFailure marks every target as failed.
func (b *Bundle) SetAllFailure() {
	b.SetAll(ResultFailure)
}

// SetAllCancelled marks every target as cancelled.
func (b *Bundle) SetAllCancelled() {
	b.SetAll(ResultCancelled)
}

// AllSuccessful is true when every target is success-equivalent.
func (b Bundle) AllSuccessful() bool {
	for _, r := range b.results {
		if !r.SuccessEquivalent() {
			return false
		}
	}
	return true
}

// WorstFailure returns the most severe failing result across all targets.
func (b Bundle) WorstFailure() (model.UploadTarget, Result, bool) {
	var (
		worstTarget model.UploadTarget
		worst       Result
		found       bool
	)
	for _, target := range model.Targets() {
		r := b.results[target]
		if !r.Failed() {
			continue
		}
		if !found || r.Severity() > worst.Severity() {
			worstTarget, worst, found = target, r, true
		}
	}
	return worstTarget, worst, found
}

// Retryable is true when the most severe failure across all targets is transient.
func (b Bundle) Retryable() bool {
	_, worst, ok := b.WorstFailure()
	return ok && worst.Transient()
}

// Equal compares two bundles target by target.
func (b Bundle) Equal(other Bundle) bool {
	return b.results == other.results
}

// Map returns the bundle as target name -> result name.
func (b Bundle) Map() map[string]string {
	out := make(map[string]string, len(b.results))
	for _, target := range model.Targets() {
		out[target.String()] = b.results[target].String()
	}
	return out
}

func (b Bundle) String() string {
	parts := make([]string, 0, len(b.results))
	for _, target := range model.Targets() {
		parts = append(parts, target.String()+"="+b.results[target].String())
	}
	return strings.Join(parts, " ")
}

// MarshalJSON encodes the bundle as an object keyed by target name.
func (b Bundle) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Map())
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (b *Bundle) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out Bundle
	for name, value := range raw {
		var target model.UploadTarget
		if err := target.UnmarshalText([]byte(name)); err != nil {
			return err
		}
		r, err := ParseResult(value)
		if err != nil {
			return err
		}
		out.Set(target, r)
	}
	*b = out
	return nil
}

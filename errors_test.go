package faultline_test

import (
	"errors"
	"testing"

	goerrors "github.com/go-errors/errors"
	pingcaperrors "github.com/pingcap/errors"
	pkgerrors "github.com/pkg/errors"

	faultline "github.com/faultline-dev/faultline-go"
)

// The three supported error libraries each expose recorded program counters
// behind a different method; extraction must recognize all of them without
// a compile-time dependency on any.

func assertExtractedHere(t *testing.T, trace *faultline.Stacktrace, fn string) {
	t.Helper()
	if trace == nil {
		t.Fatal("no stack trace extracted")
	}
	if len(trace.Frames) == 0 {
		t.Fatal("extracted trace has no frames")
	}
	last := trace.Frames[len(trace.Frames)-1]
	if last.Function != fn {
		t.Errorf("newest frame = %q, want %q", last.Function, fn)
	}
	if last.Lineno == 0 {
		t.Error("newest frame has no line number")
	}
}

func TestExtractStacktracePkgErrors(t *testing.T) {
	err := pkgerrors.New("boom")
	assertExtractedHere(t, faultline.ExtractStacktrace(err), "TestExtractStacktracePkgErrors")
}

func TestExtractStacktracePkgErrorsWithStack(t *testing.T) {
	err := pkgerrors.WithStack(errors.New("plain"))
	assertExtractedHere(t, faultline.ExtractStacktrace(err), "TestExtractStacktracePkgErrorsWithStack")
}

func TestExtractStacktracePingcapErrors(t *testing.T) {
	err := pingcaperrors.New("boom")
	assertExtractedHere(t, faultline.ExtractStacktrace(err), "TestExtractStacktracePingcapErrors")
}

func TestExtractStacktraceGoErrors(t *testing.T) {
	err := goerrors.New("boom")
	assertExtractedHere(t, faultline.ExtractStacktrace(err), "TestExtractStacktraceGoErrors")
}

func TestExtractStacktracePlainError(t *testing.T) {
	if trace := faultline.ExtractStacktrace(errors.New("no pcs here")); trace != nil {
		t.Errorf("plain error yielded a trace: %#v", trace)
	}
}

func TestExtractStacktraceNil(t *testing.T) {
	if trace := faultline.ExtractStacktrace(nil); trace != nil {
		t.Error("nil error yielded a trace")
	}
}

func TestFramesOldestFirst(t *testing.T) {
	outer := func() error {
		return pkgerrors.New("inner")
	}
	trace := faultline.ExtractStacktrace(outer())
	if trace == nil || len(trace.Frames) < 2 {
		t.Fatalf("trace = %#v", trace)
	}
	newest := trace.Frames[len(trace.Frames)-1]
	older := trace.Frames[len(trace.Frames)-2]
	if newest.Function != "TestFramesOldestFirst.func1" {
		t.Errorf("newest frame = %q", newest.Function)
	}
	if older.Function != "TestFramesOldestFirst" {
		t.Errorf("second-newest frame = %q", older.Function)
	}
}

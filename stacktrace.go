package faultline

import (
	"reflect"
	"runtime"
	"strconv"
	"strings"

	"github.com/faultline-dev/faultline-go/internal/wire"
)

const unknown string = "unknown"

// Stacktrace holds the frames of a call stack, oldest call first.
type Stacktrace struct {
	Frames []Frame
	// FramesOmitted is the half-open [start, end) range of frames removed
	// from the middle of an over-long stack, or nil when nothing was cut.
	FramesOmitted []int
}

// Frame is a single entry of a stack trace.
type Frame struct {
	Function    string
	Symbol      string
	Module      string
	Package     string
	Filename    string
	AbsPath     string
	Lineno      int
	Colno       int
	PreContext  []string
	ContextLine string
	PostContext []string
	Vars        map[string]interface{}

	// InApp is computed once from the configured include/exclude patterns
	// and stays nil only when no symbol information was available to
	// classify the frame.
	InApp *bool

	// Addresses are serialized as 0x-prefixed lowercase hex; zero means
	// absent and is omitted.
	InstructionAddr uint64
	SymbolAddr      uint64
	ImageAddr       uint64
}

// NewStacktrace captures the stack of the calling goroutine, excluding the
// SDK's own frames.
func NewStacktrace() *Stacktrace {
	pcs := make([]uintptr, 100)
	n := runtime.Callers(1, pcs)
	if n == 0 {
		return nil
	}
	frames := extractFrames(pcs[:n])
	frames = filterFrames(frames)
	return &Stacktrace{Frames: frames}
}

// ExtractStacktrace builds a Stacktrace from the program counters carried by
// err, if its error library recorded any. The stack trace providers of
// github.com/pkg/errors, github.com/pingcap/errors and
// github.com/go-errors/errors are all recognized.
func ExtractStacktrace(err error) *Stacktrace {
	method := extractReflectedStacktraceMethod(err)
	if !method.IsValid() {
		return nil
	}
	pcs := extractPcs(method)
	if len(pcs) == 0 {
		return nil
	}
	frames := extractFrames(pcs)
	frames = filterFrames(frames)
	if len(frames) == 0 {
		return nil
	}
	return &Stacktrace{Frames: frames}
}

func extractReflectedStacktraceMethod(err error) reflect.Value {
	errValue := reflect.ValueOf(err)
	if !errValue.IsValid() {
		return reflect.Value{}
	}

	// github.com/go-errors/errors
	if m := errValue.MethodByName("Callers"); m.IsValid() {
		return m
	}
	// github.com/pkg/errors and github.com/pingcap/errors
	if m := errValue.MethodByName("StackTrace"); m.IsValid() {
		return m
	}
	return reflect.Value{}
}

func extractPcs(method reflect.Value) []uintptr {
	var pcs []uintptr
	stacktrace := method.Call(nil)[0]
	if stacktrace.Kind() != reflect.Slice {
		return nil
	}
	for i := 0; i < stacktrace.Len(); i++ {
		pc := stacktrace.Index(i)
		switch pc.Kind() {
		case reflect.Uintptr:
			pcs = append(pcs, uintptr(pc.Uint()))
		case reflect.Uint, reflect.Uint64:
			pcs = append(pcs, uintptr(pc.Uint()))
		}
	}
	return pcs
}

// extractFrames resolves program counters into frames, oldest call first.
func extractFrames(pcs []uintptr) []Frame {
	var frames []Frame
	callersFrames := runtime.CallersFrames(pcs)
	for {
		callerFrame, more := callersFrames.Next()
		frames = append(frames, newFrame(callerFrame))
		if !more {
			break
		}
	}
	// runtime.CallersFrames yields newest first; the wire format wants
	// oldest first.
	for i, j := 0, len(frames)-1; i < j; i, j = i+1, j-1 {
		frames[i], frames[j] = frames[j], frames[i]
	}
	return frames
}

func newFrame(caller runtime.Frame) Frame {
	file := caller.File
	if file == "" {
		file = unknown
	}
	function := caller.Function
	if function == "" {
		function = unknown
	}

	frame := Frame{
		AbsPath:         file,
		Filename:        trimFilePath(file),
		Lineno:          caller.Line,
		InstructionAddr: uint64(caller.PC),
	}
	frame.Module, frame.Function = splitQualifiedFunctionName(function)
	if caller.Func != nil {
		frame.SymbolAddr = uint64(caller.Func.Entry())
	}
	return frame
}

// splitQualifiedFunctionName splits a package path-qualified function name
// into package name and function name. Such qualified names are found in
// runtime.Frame.Function values.
func splitQualifiedFunctionName(name string) (pkg string, fun string) {
	pkg = packageName(name)
	fun = strings.TrimPrefix(name, pkg+".")
	return
}

// packageName returns the import path of the package a qualified function
// name belongs to.
func packageName(name string) string {
	if strings.Contains(name, ".(") {
		name = name[:strings.Index(name, ".(")]
		if i := strings.LastIndex(name, "/"); i != -1 {
			return name
		}
		// method on a type in a single-segment package
		if i := strings.LastIndex(name, "."); i != -1 {
			return name[:i]
		}
		return name
	}

	pathend := strings.LastIndex(name, "/")
	if pathend < 0 {
		pathend = 0
	}
	if i := strings.Index(name[pathend:], "."); i != -1 {
		return name[:pathend+i]
	}
	return name
}

func trimFilePath(path string) string {
	if i := strings.LastIndex(path, "/"); i != -1 {
		return path[i+1:]
	}
	return path
}

const sdkModulePath = "github.com/faultline-dev/faultline-go"

// filterFrames drops runtime plumbing and the SDK's own frames; those never
// help users locate a problem in their code.
func filterFrames(frames []Frame) []Frame {
	if len(frames) == 0 {
		return nil
	}
	filtered := frames[:0:0]
	for _, frame := range frames {
		if frame.Module == "runtime" || frame.Module == "testing" {
			continue
		}
		if strings.HasPrefix(frame.Module, sdkModulePath) &&
			!strings.HasPrefix(frame.Module, sdkModulePath+"/_") &&
			!strings.Contains(frame.Module, "_test") {
			continue
		}
		filtered = append(filtered, frame)
	}
	return filtered
}

// ClassifyInApp computes the in-app flag for every frame that has not been
// classified yet, using the configured include/exclude prefixes. Frames
// without module information stay unclassified.
func (st *Stacktrace) ClassifyInApp(include, exclude []string) {
	for i := range st.Frames {
		frame := &st.Frames[i]
		if frame.InApp != nil {
			continue
		}
		if frame.Module == "" && frame.Function == "" {
			continue
		}
		inApp := isInAppFrame(*frame, include, exclude)
		frame.InApp = &inApp
	}
}

func isInAppFrame(frame Frame, include, exclude []string) bool {
	for _, prefix := range exclude {
		if strings.HasPrefix(frame.Module, prefix) || strings.HasPrefix(frame.Function, prefix) {
			return false
		}
	}
	for _, prefix := range include {
		if strings.HasPrefix(frame.Module, prefix) || strings.HasPrefix(frame.Function, prefix) {
			return true
		}
	}
	if frame.Module == "main" {
		return true
	}
	return !strings.Contains(frame.AbsPath, "vendor") &&
		!strings.Contains(frame.AbsPath, "third_party")
}

// WriteTo serializes the stack trace.
func (st *Stacktrace) WriteTo(w *wire.Writer) {
	w.BeginObject()
	if st.Frames != nil {
		w.Key("frames")
		w.BeginArray()
		for i := range st.Frames {
			st.Frames[i].WriteTo(w)
		}
		w.EndArray()
	}
	if len(st.FramesOmitted) == 2 {
		w.Key("frames_omitted")
		w.BeginArray()
		w.RawValue([]byte(strconv.Itoa(st.FramesOmitted[0])))
		w.RawValue([]byte(strconv.Itoa(st.FramesOmitted[1])))
		w.EndArray()
	}
	w.EndObject()
}

func stacktraceFromNode(n wire.Node) *Stacktrace {
	if !n.Exists() || n.IsNull() {
		return nil
	}
	st := &Stacktrace{}
	if frames, ok := n.Get("frames").Array(); ok {
		st.Frames = make([]Frame, 0, len(frames))
		for _, f := range frames {
			st.Frames = append(st.Frames, frameFromNode(f))
		}
	}
	if omitted, ok := n.Get("frames_omitted").Array(); ok && len(omitted) == 2 {
		start, ok1 := omitted[0].Int64()
		end, ok2 := omitted[1].Int64()
		if ok1 && ok2 {
			st.FramesOmitted = []int{int(start), int(end)}
		}
	}
	return st
}

// WriteTo serializes the frame. Zero addresses are omitted, not written as
// "0x0".
func (f *Frame) WriteTo(w *wire.Writer) {
	w.BeginObject()
	w.String("function", f.Function)
	w.String("symbol", f.Symbol)
	w.String("module", f.Module)
	w.String("package", f.Package)
	w.String("filename", f.Filename)
	w.String("abs_path", f.AbsPath)
	w.Int("lineno", int64(f.Lineno))
	w.Int("colno", int64(f.Colno))
	w.StringSlice("pre_context", f.PreContext)
	w.String("context_line", f.ContextLine)
	w.StringSlice("post_context", f.PostContext)
	w.BoolPtr("in_app", f.InApp)
	w.DynamicMap("vars", f.Vars)
	w.Hex("instruction_addr", f.InstructionAddr)
	w.Hex("symbol_addr", f.SymbolAddr)
	w.Hex("image_addr", f.ImageAddr)
	w.EndObject()
}

// MarshalJSON implements json.Marshaler.
func (f *Frame) MarshalJSON() ([]byte, error) {
	return serialize(f.WriteTo)
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Frame) UnmarshalJSON(data []byte) error {
	n, err := wire.Parse(data)
	if err != nil {
		return err
	}
	*f = frameFromNode(n)
	return nil
}

func frameFromNode(n wire.Node) Frame {
	var f Frame
	f.Function, _ = n.Get("function").Str()
	f.Symbol, _ = n.Get("symbol").Str()
	f.Module, _ = n.Get("module").Str()
	f.Package, _ = n.Get("package").Str()
	f.Filename, _ = n.Get("filename").Str()
	f.AbsPath, _ = n.Get("abs_path").Str()
	if v, ok := n.Get("lineno").Int64(); ok {
		f.Lineno = int(v)
	}
	if v, ok := n.Get("colno").Int64(); ok {
		f.Colno = int(v)
	}
	f.PreContext = n.Get("pre_context").StringSlice()
	f.ContextLine, _ = n.Get("context_line").Str()
	f.PostContext = n.Get("post_context").StringSlice()
	if v, ok := n.Get("in_app").Bool(); ok {
		f.InApp = &v
	}
	f.Vars = n.Get("vars").DynamicMap()
	f.InstructionAddr, _ = n.Get("instruction_addr").Hex()
	f.SymbolAddr, _ = n.Get("symbol_addr").Hex()
	f.ImageAddr, _ = n.Get("image_addr").Hex()
	return f
}


package faultline

import (
	"sort"
	"time"

	"github.com/faultline-dev/faultline-go/internal/util"
	"github.com/faultline-dev/faultline-go/internal/wire"
)

// Context is a named sub-document attached to an event describing runtime,
// device, app or trace state. Typed contexts implement field-level
// fill-unset merging; everything else travels as an OpaqueContext.
type Context interface {
	// WriteTo serializes the context body.
	WriteTo(w *wire.Writer)
	// Clone returns a deep copy that shares no mutable state.
	Clone() Context
	// FillUnsetFrom copies fields that are unset on the receiver from other.
	// Fields that already have a value are never overwritten. A mismatched
	// concrete type is a no-op.
	FillUnsetFrom(other Context)
}

// Well-known context keys.
const (
	ContextKeyApp      = "app"
	ContextKeyBrowser  = "browser"
	ContextKeyDevice   = "device"
	ContextKeyFeedback = "feedback"
	ContextKeyGPU      = "gpu"
	ContextKeyOS       = "os"
	ContextKeyResponse = "response"
	ContextKeyRuntime  = "runtime"
	ContextKeyTrace    = "trace"
)

// Contexts is the string-keyed context map of an event. Serialization
// iterates keys in sorted order so output is stable.
type Contexts map[string]Context

// Clone deep-copies the context map.
func (cs Contexts) Clone() Contexts {
	if cs == nil {
		return nil
	}
	out := make(Contexts, len(cs))
	for k, v := range cs {
		if v == nil {
			out[k] = nil
			continue
		}
		out[k] = v.Clone()
	}
	return out
}

// CopyTo merges cs into target. Keys absent from target are inserted as
// clones. For keys present in both, typed contexts fill only their unset
// fields from the source, and opaque dictionary contexts merge recursively
// key-by-key under the same don't-overwrite rule. Existing non-null values
// in target always win, giving "most specific scope wins" precedence when
// nested scopes are flattened onto one event.
func (cs Contexts) CopyTo(target Contexts) {
	for k, src := range cs {
		existing, ok := target[k]
		if !ok || existing == nil {
			if src == nil {
				target[k] = nil
			} else {
				target[k] = src.Clone()
			}
			continue
		}
		existing.FillUnsetFrom(src)
	}
}

// WriteTo serializes the context map with sorted keys.
func (cs Contexts) WriteTo(w *wire.Writer) {
	w.BeginObject()
	for _, k := range sortedContextKeys(cs) {
		w.Key(k)
		if cs[k] == nil {
			w.Null()
			continue
		}
		cs[k].WriteTo(w)
	}
	w.EndObject()
}

func sortedContextKeys(cs Contexts) []string {
	keys := make([]string, 0, len(cs))
	for k := range cs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// contextsFromNode parses the contexts object. Known keys produce typed
// contexts; everything else is preserved as an opaque dictionary, so
// contexts written by newer producers survive a round trip. A malformed
// typed context parses to a typed context with unset fields; it never
// fails the event.
func contextsFromNode(n wire.Node) Contexts {
	if !n.Exists() || n.IsNull() {
		return nil
	}
	keys := n.Keys()
	if keys == nil {
		return nil
	}
	cs := make(Contexts, len(keys))
	for _, k := range keys {
		v := n.Get(k)
		if v.IsNull() {
			cs[k] = OpaqueContext(nil)
			continue
		}
		cs[k] = contextFromNode(k, v)
	}
	return cs
}

func contextFromNode(key string, n wire.Node) Context {
	switch key {
	case ContextKeyApp:
		return appContextFromNode(n)
	case ContextKeyBrowser:
		return browserContextFromNode(n)
	case ContextKeyDevice:
		return deviceContextFromNode(n)
	case ContextKeyFeedback:
		return feedbackContextFromNode(n)
	case ContextKeyGPU:
		return gpuContextFromNode(n)
	case ContextKeyOS:
		return osContextFromNode(n)
	case ContextKeyResponse:
		return responseContextFromNode(n)
	case ContextKeyRuntime:
		return runtimeContextFromNode(n)
	case ContextKeyTrace:
		return traceContextFromNode(n)
	default:
		return OpaqueContext(n.DynamicMap())
	}
}

// OpaqueContext is the fallback for contexts with no dedicated type: an
// arbitrary dictionary passed through as-is.
type OpaqueContext map[string]interface{}

// WriteTo serializes the dictionary with sorted keys. A nil dictionary
// serializes as an explicit null; null and {} are different signals.
func (c OpaqueContext) WriteTo(w *wire.Writer) {
	if c == nil {
		w.Null()
		return
	}
	w.BeginObject()
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		w.Key(k)
		if c[k] == nil {
			w.Null()
			continue
		}
		w.DynamicValue(c[k])
	}
	w.EndObject()
}

// Clone deep-copies the dictionary, including nested maps and slices.
func (c OpaqueContext) Clone() Context {
	if c == nil {
		return OpaqueContext(nil)
	}
	return OpaqueContext(util.Deepcopy(map[string]interface{}(c)).(map[string]interface{}))
}

// FillUnsetFrom merges keys missing from the receiver, recursively for
// nested dictionaries. Existing non-null values are never overwritten.
func (c OpaqueContext) FillUnsetFrom(other Context) {
	o, ok := other.(OpaqueContext)
	if !ok || c == nil {
		return
	}
	fillMissingKeys(c, o)
}

func fillMissingKeys(dst, src map[string]interface{}) {
	for k, sv := range src {
		dv, ok := dst[k]
		if !ok || dv == nil {
			dst[k] = util.Deepcopy(sv)
			continue
		}
		dm, dstIsMap := dv.(map[string]interface{})
		sm, srcIsMap := sv.(map[string]interface{})
		if dstIsMap && srcIsMap {
			fillMissingKeys(dm, sm)
		}
	}
}

// AppContext describes the application that captured the event.
type AppContext struct {
	AppStartTime  time.Time
	DeviceAppHash string
	BuildType     string
	AppIdentifier string
	AppName       string
	AppVersion    string
	AppBuild      string
	AppMemory     uint64
	InForeground  *bool
}

func (c *AppContext) WriteTo(w *wire.Writer) {
	w.BeginObject()
	w.StringAlways("type", ContextKeyApp)
	w.Time("app_start_time", c.AppStartTime)
	w.String("device_app_hash", c.DeviceAppHash)
	w.String("build_type", c.BuildType)
	w.String("app_identifier", c.AppIdentifier)
	w.String("app_name", c.AppName)
	w.String("app_version", c.AppVersion)
	w.String("app_build", c.AppBuild)
	if c.AppMemory != 0 {
		w.IntAlways("app_memory", int64(c.AppMemory))
	}
	w.BoolPtr("in_foreground", c.InForeground)
	w.EndObject()
}

func (c *AppContext) Clone() Context {
	out := *c
	if c.InForeground != nil {
		v := *c.InForeground
		out.InForeground = &v
	}
	return &out
}

func (c *AppContext) FillUnsetFrom(other Context) {
	o, ok := other.(*AppContext)
	if !ok {
		return
	}
	if c.AppStartTime.IsZero() {
		c.AppStartTime = o.AppStartTime
	}
	fillString(&c.DeviceAppHash, o.DeviceAppHash)
	fillString(&c.BuildType, o.BuildType)
	fillString(&c.AppIdentifier, o.AppIdentifier)
	fillString(&c.AppName, o.AppName)
	fillString(&c.AppVersion, o.AppVersion)
	fillString(&c.AppBuild, o.AppBuild)
	if c.AppMemory == 0 {
		c.AppMemory = o.AppMemory
	}
	if c.InForeground == nil && o.InForeground != nil {
		v := *o.InForeground
		c.InForeground = &v
	}
}

func appContextFromNode(n wire.Node) Context {
	c := &AppContext{}
	c.AppStartTime, _ = n.Get("app_start_time").Time()
	c.DeviceAppHash, _ = n.Get("device_app_hash").Str()
	c.BuildType, _ = n.Get("build_type").Str()
	c.AppIdentifier, _ = n.Get("app_identifier").Str()
	c.AppName, _ = n.Get("app_name").Str()
	c.AppVersion, _ = n.Get("app_version").Str()
	c.AppBuild, _ = n.Get("app_build").Str()
	c.AppMemory, _ = n.Get("app_memory").Uint64()
	if v, ok := n.Get("in_foreground").Bool(); ok {
		c.InForeground = &v
	}
	return c
}

// DeviceContext describes the hardware the application runs on.
type DeviceContext struct {
	Name               string
	Family             string
	Model              string
	ModelID            string
	Arch               string
	Manufacturer       string
	Brand              string
	Orientation        string
	BatteryLevel       *float64
	Charging           *bool
	Online             *bool
	Simulator          *bool
	MemorySize         uint64
	FreeMemory         uint64
	StorageSize        uint64
	FreeStorage        uint64
	ScreenWidthPixels  int64
	ScreenHeightPixels int64
	ScreenDensity      *float64
	BootTime           time.Time
	Timezone           string
	ProcessorCount     int64
	CPUDescription     string
}

func (c *DeviceContext) WriteTo(w *wire.Writer) {
	w.BeginObject()
	w.StringAlways("type", ContextKeyDevice)
	w.String("name", c.Name)
	w.String("family", c.Family)
	w.String("model", c.Model)
	w.String("model_id", c.ModelID)
	w.String("arch", c.Arch)
	w.String("manufacturer", c.Manufacturer)
	w.String("brand", c.Brand)
	w.String("orientation", c.Orientation)
	w.FloatPtr("battery_level", c.BatteryLevel)
	w.BoolPtr("charging", c.Charging)
	w.BoolPtr("online", c.Online)
	w.BoolPtr("simulator", c.Simulator)
	if c.MemorySize != 0 {
		w.IntAlways("memory_size", int64(c.MemorySize))
	}
	if c.FreeMemory != 0 {
		w.IntAlways("free_memory", int64(c.FreeMemory))
	}
	if c.StorageSize != 0 {
		w.IntAlways("storage_size", int64(c.StorageSize))
	}
	if c.FreeStorage != 0 {
		w.IntAlways("free_storage", int64(c.FreeStorage))
	}
	w.Int("screen_width_pixels", c.ScreenWidthPixels)
	w.Int("screen_height_pixels", c.ScreenHeightPixels)
	w.FloatPtr("screen_density", c.ScreenDensity)
	w.Time("boot_time", c.BootTime)
	w.String("timezone", c.Timezone)
	w.Int("processor_count", c.ProcessorCount)
	w.String("cpu_description", c.CPUDescription)
	w.EndObject()
}

func (c *DeviceContext) Clone() Context {
	out := *c
	out.BatteryLevel = cloneFloatPtr(c.BatteryLevel)
	out.Charging = cloneBoolPtr(c.Charging)
	out.Online = cloneBoolPtr(c.Online)
	out.Simulator = cloneBoolPtr(c.Simulator)
	out.ScreenDensity = cloneFloatPtr(c.ScreenDensity)
	return &out
}

func (c *DeviceContext) FillUnsetFrom(other Context) {
	o, ok := other.(*DeviceContext)
	if !ok {
		return
	}
	fillString(&c.Name, o.Name)
	fillString(&c.Family, o.Family)
	fillString(&c.Model, o.Model)
	fillString(&c.ModelID, o.ModelID)
	fillString(&c.Arch, o.Arch)
	fillString(&c.Manufacturer, o.Manufacturer)
	fillString(&c.Brand, o.Brand)
	fillString(&c.Orientation, o.Orientation)
	if c.BatteryLevel == nil {
		c.BatteryLevel = cloneFloatPtr(o.BatteryLevel)
	}
	if c.Charging == nil {
		c.Charging = cloneBoolPtr(o.Charging)
	}
	if c.Online == nil {
		c.Online = cloneBoolPtr(o.Online)
	}
	if c.Simulator == nil {
		c.Simulator = cloneBoolPtr(o.Simulator)
	}
	if c.MemorySize == 0 {
		c.MemorySize = o.MemorySize
	}
	if c.FreeMemory == 0 {
		c.FreeMemory = o.FreeMemory
	}
	if c.StorageSize == 0 {
		c.StorageSize = o.StorageSize
	}
	if c.FreeStorage == 0 {
		c.FreeStorage = o.FreeStorage
	}
	if c.ScreenWidthPixels == 0 {
		c.ScreenWidthPixels = o.ScreenWidthPixels
	}
	if c.ScreenHeightPixels == 0 {
		c.ScreenHeightPixels = o.ScreenHeightPixels
	}
	if c.ScreenDensity == nil {
		c.ScreenDensity = cloneFloatPtr(o.ScreenDensity)
	}
	if c.BootTime.IsZero() {
		c.BootTime = o.BootTime
	}
	fillString(&c.Timezone, o.Timezone)
	if c.ProcessorCount == 0 {
		c.ProcessorCount = o.ProcessorCount
	}
	fillString(&c.CPUDescription, o.CPUDescription)
}

func deviceContextFromNode(n wire.Node) Context {
	c := &DeviceContext{}
	c.Name, _ = n.Get("name").Str()
	c.Family, _ = n.Get("family").Str()
	c.Model, _ = n.Get("model").Str()
	c.ModelID, _ = n.Get("model_id").Str()
	c.Arch, _ = n.Get("arch").Str()
	c.Manufacturer, _ = n.Get("manufacturer").Str()
	c.Brand, _ = n.Get("brand").Str()
	c.Orientation, _ = n.Get("orientation").Str()
	if v, ok := n.Get("battery_level").Float64(); ok {
		c.BatteryLevel = &v
	}
	if v, ok := n.Get("charging").Bool(); ok {
		c.Charging = &v
	}
	if v, ok := n.Get("online").Bool(); ok {
		c.Online = &v
	}
	if v, ok := n.Get("simulator").Bool(); ok {
		c.Simulator = &v
	}
	c.MemorySize, _ = n.Get("memory_size").Uint64()
	c.FreeMemory, _ = n.Get("free_memory").Uint64()
	c.StorageSize, _ = n.Get("storage_size").Uint64()
	c.FreeStorage, _ = n.Get("free_storage").Uint64()
	c.ScreenWidthPixels, _ = n.Get("screen_width_pixels").Int64()
	c.ScreenHeightPixels, _ = n.Get("screen_height_pixels").Int64()
	if v, ok := n.Get("screen_density").Float64(); ok {
		c.ScreenDensity = &v
	}
	c.BootTime, _ = n.Get("boot_time").Time()
	c.Timezone, _ = n.Get("timezone").Str()
	c.ProcessorCount, _ = n.Get("processor_count").Int64()
	c.CPUDescription, _ = n.Get("cpu_description").Str()
	return c
}

// OSContext describes the operating system.
type OSContext struct {
	Name           string
	Version        string
	Build          string
	KernelVersion  string
	RawDescription string
	Rooted         *bool
}

func (c *OSContext) WriteTo(w *wire.Writer) {
	w.BeginObject()
	w.StringAlways("type", ContextKeyOS)
	w.String("name", c.Name)
	w.String("version", c.Version)
	w.String("build", c.Build)
	w.String("kernel_version", c.KernelVersion)
	w.String("raw_description", c.RawDescription)
	w.BoolPtr("rooted", c.Rooted)
	w.EndObject()
}

func (c *OSContext) Clone() Context {
	out := *c
	out.Rooted = cloneBoolPtr(c.Rooted)
	return &out
}

func (c *OSContext) FillUnsetFrom(other Context) {
	o, ok := other.(*OSContext)
	if !ok {
		return
	}
	fillString(&c.Name, o.Name)
	fillString(&c.Version, o.Version)
	fillString(&c.Build, o.Build)
	fillString(&c.KernelVersion, o.KernelVersion)
	fillString(&c.RawDescription, o.RawDescription)
	if c.Rooted == nil {
		c.Rooted = cloneBoolPtr(o.Rooted)
	}
}

func osContextFromNode(n wire.Node) Context {
	c := &OSContext{}
	c.Name, _ = n.Get("name").Str()
	c.Version, _ = n.Get("version").Str()
	c.Build, _ = n.Get("build").Str()
	c.KernelVersion, _ = n.Get("kernel_version").Str()
	c.RawDescription, _ = n.Get("raw_description").Str()
	if v, ok := n.Get("rooted").Bool(); ok {
		c.Rooted = &v
	}
	return c
}

// GPUContext describes the graphics device.
type GPUContext struct {
	Name                   string
	ID                     string
	VendorID               string
	VendorName             string
	Version                string
	APIType                string
	MemorySize             uint64
	MultiThreadedRendering *bool
	NPOTSupport            string
}

func (c *GPUContext) WriteTo(w *wire.Writer) {
	w.BeginObject()
	w.StringAlways("type", ContextKeyGPU)
	w.String("name", c.Name)
	w.String("id", c.ID)
	w.String("vendor_id", c.VendorID)
	w.String("vendor_name", c.VendorName)
	w.String("version", c.Version)
	w.String("api_type", c.APIType)
	if c.MemorySize != 0 {
		w.IntAlways("memory_size", int64(c.MemorySize))
	}
	w.BoolPtr("multi_threaded_rendering", c.MultiThreadedRendering)
	w.String("npot_support", c.NPOTSupport)
	w.EndObject()
}

func (c *GPUContext) Clone() Context {
	out := *c
	out.MultiThreadedRendering = cloneBoolPtr(c.MultiThreadedRendering)
	return &out
}

func (c *GPUContext) FillUnsetFrom(other Context) {
	o, ok := other.(*GPUContext)
	if !ok {
		return
	}
	fillString(&c.Name, o.Name)
	fillString(&c.ID, o.ID)
	fillString(&c.VendorID, o.VendorID)
	fillString(&c.VendorName, o.VendorName)
	fillString(&c.Version, o.Version)
	fillString(&c.APIType, o.APIType)
	if c.MemorySize == 0 {
		c.MemorySize = o.MemorySize
	}
	if c.MultiThreadedRendering == nil {
		c.MultiThreadedRendering = cloneBoolPtr(o.MultiThreadedRendering)
	}
	fillString(&c.NPOTSupport, o.NPOTSupport)
}

func gpuContextFromNode(n wire.Node) Context {
	c := &GPUContext{}
	c.Name, _ = n.Get("name").Str()
	c.ID, _ = n.Get("id").Str()
	c.VendorID, _ = n.Get("vendor_id").Str()
	c.VendorName, _ = n.Get("vendor_name").Str()
	c.Version, _ = n.Get("version").Str()
	c.APIType, _ = n.Get("api_type").Str()
	c.MemorySize, _ = n.Get("memory_size").Uint64()
	if v, ok := n.Get("multi_threaded_rendering").Bool(); ok {
		c.MultiThreadedRendering = &v
	}
	c.NPOTSupport, _ = n.Get("npot_support").Str()
	return c
}

// BrowserContext describes the browser, for events captured behind a
// browser-facing service.
type BrowserContext struct {
	Name    string
	Version string
}

func (c *BrowserContext) WriteTo(w *wire.Writer) {
	w.BeginObject()
	w.StringAlways("type", ContextKeyBrowser)
	w.String("name", c.Name)
	w.String("version", c.Version)
	w.EndObject()
}

func (c *BrowserContext) Clone() Context {
	out := *c
	return &out
}

func (c *BrowserContext) FillUnsetFrom(other Context) {
	o, ok := other.(*BrowserContext)
	if !ok {
		return
	}
	fillString(&c.Name, o.Name)
	fillString(&c.Version, o.Version)
}

func browserContextFromNode(n wire.Node) Context {
	c := &BrowserContext{}
	c.Name, _ = n.Get("name").Str()
	c.Version, _ = n.Get("version").Str()
	return c
}

// RuntimeContext describes the language runtime.
type RuntimeContext struct {
	Name           string
	Version        string
	RawDescription string
}

func (c *RuntimeContext) WriteTo(w *wire.Writer) {
	w.BeginObject()
	w.StringAlways("type", ContextKeyRuntime)
	w.String("name", c.Name)
	w.String("version", c.Version)
	w.String("raw_description", c.RawDescription)
	w.EndObject()
}

func (c *RuntimeContext) Clone() Context {
	out := *c
	return &out
}

func (c *RuntimeContext) FillUnsetFrom(other Context) {
	o, ok := other.(*RuntimeContext)
	if !ok {
		return
	}
	fillString(&c.Name, o.Name)
	fillString(&c.Version, o.Version)
	fillString(&c.RawDescription, o.RawDescription)
}

func runtimeContextFromNode(n wire.Node) Context {
	c := &RuntimeContext{}
	c.Name, _ = n.Get("name").Str()
	c.Version, _ = n.Get("version").Str()
	c.RawDescription, _ = n.Get("raw_description").Str()
	return c
}

// ResponseContext describes the HTTP response of a failed request, used by
// the failed-request capture path.
type ResponseContext struct {
	StatusCode int64
	BodySize   int64
	Cookies    string
	Headers    map[string]string
	Data       interface{}
}

func (c *ResponseContext) WriteTo(w *wire.Writer) {
	w.BeginObject()
	w.StringAlways("type", ContextKeyResponse)
	w.Int("status_code", c.StatusCode)
	w.Int("body_size", c.BodySize)
	w.String("cookies", c.Cookies)
	w.StringMap("headers", c.Headers)
	w.Dynamic("data", c.Data)
	w.EndObject()
}

func (c *ResponseContext) Clone() Context {
	out := *c
	if c.Headers != nil {
		out.Headers = make(map[string]string, len(c.Headers))
		for k, v := range c.Headers {
			out.Headers[k] = v
		}
	}
	out.Data = util.Deepcopy(c.Data)
	return &out
}

func (c *ResponseContext) FillUnsetFrom(other Context) {
	o, ok := other.(*ResponseContext)
	if !ok {
		return
	}
	if c.StatusCode == 0 {
		c.StatusCode = o.StatusCode
	}
	if c.BodySize == 0 {
		c.BodySize = o.BodySize
	}
	fillString(&c.Cookies, o.Cookies)
	if c.Headers == nil && o.Headers != nil {
		c.Headers = make(map[string]string, len(o.Headers))
		for k, v := range o.Headers {
			c.Headers[k] = v
		}
	}
	if c.Data == nil {
		c.Data = util.Deepcopy(o.Data)
	}
}

func responseContextFromNode(n wire.Node) Context {
	c := &ResponseContext{}
	c.StatusCode, _ = n.Get("status_code").Int64()
	c.BodySize, _ = n.Get("body_size").Int64()
	c.Cookies, _ = n.Get("cookies").Str()
	c.Headers = n.Get("headers").StringMap()
	if d := n.Get("data"); d.Exists() && !d.IsNull() {
		c.Data = d.Raw()
	}
	return c
}

// FeedbackContext carries user feedback attached to an event.
type FeedbackContext struct {
	ContactEmail      string
	Name              string
	Message           string
	URL               string
	AssociatedEventID EventID
}

func (c *FeedbackContext) WriteTo(w *wire.Writer) {
	w.BeginObject()
	w.StringAlways("type", ContextKeyFeedback)
	w.String("contact_email", c.ContactEmail)
	w.String("name", c.Name)
	w.String("message", c.Message)
	w.String("url", c.URL)
	if !c.AssociatedEventID.IsZero() {
		w.String("associated_event_id", c.AssociatedEventID.String())
	}
	w.EndObject()
}

func (c *FeedbackContext) Clone() Context {
	out := *c
	return &out
}

func (c *FeedbackContext) FillUnsetFrom(other Context) {
	o, ok := other.(*FeedbackContext)
	if !ok {
		return
	}
	fillString(&c.ContactEmail, o.ContactEmail)
	fillString(&c.Name, o.Name)
	fillString(&c.Message, o.Message)
	fillString(&c.URL, o.URL)
	if c.AssociatedEventID.IsZero() {
		c.AssociatedEventID = o.AssociatedEventID
	}
}

func feedbackContextFromNode(n wire.Node) Context {
	c := &FeedbackContext{}
	c.ContactEmail, _ = n.Get("contact_email").Str()
	c.Name, _ = n.Get("name").Str()
	c.Message, _ = n.Get("message").Str()
	c.URL, _ = n.Get("url").Str()
	if s, ok := n.Get("associated_event_id").Str(); ok {
		if id, err := ParseEventID(s); err == nil {
			c.AssociatedEventID = id
		}
	}
	return c
}

func fillString(dst *string, src string) {
	if *dst == "" {
		*dst = src
	}
}

func cloneBoolPtr(p *bool) *bool {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneFloatPtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

package faultline

import (
	"github.com/faultline-dev/faultline-go/internal/wire"
)

// DebugMeta carries the debug information needed to symbolicate native
// frames server-side.
type DebugMeta struct {
	SdkInfo *DebugMetaSdkInfo
	Images  []DebugMetaImage
}

// DebugMetaSdkInfo identifies the system SDK the images belong to.
type DebugMetaSdkInfo struct {
	SdkName           string
	VersionMajor      int64
	VersionMinor      int64
	VersionPatchlevel int64
}

// DebugMetaImage describes one loaded binary image. Address fields are held
// as integers and serialized as 0x-prefixed lowercase hex; a zero address is
// omitted.
type DebugMetaImage struct {
	Type        string
	ImageAddr   uint64
	ImageVmaddr uint64
	ImageSize   int64
	DebugID     string
	DebugFile   string
	CodeID      string
	CodeFile    string
	Arch        string
	UUID        string
}

func (d *DebugMeta) WriteTo(w *wire.Writer) {
	w.BeginObject()
	if d.SdkInfo != nil {
		w.Key("sdk_info")
		w.BeginObject()
		w.String("sdk_name", d.SdkInfo.SdkName)
		w.Int("version_major", d.SdkInfo.VersionMajor)
		w.Int("version_minor", d.SdkInfo.VersionMinor)
		w.Int("version_patchlevel", d.SdkInfo.VersionPatchlevel)
		w.EndObject()
	}
	if d.Images != nil {
		w.Key("images")
		w.BeginArray()
		for i := range d.Images {
			d.Images[i].WriteTo(w)
		}
		w.EndArray()
	}
	w.EndObject()
}

// MarshalJSON implements json.Marshaler.
func (d *DebugMeta) MarshalJSON() ([]byte, error) {
	return serialize(d.WriteTo)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *DebugMeta) UnmarshalJSON(data []byte) error {
	n, err := wire.Parse(data)
	if err != nil {
		return err
	}
	parsed := debugMetaFromNode(n)
	if parsed == nil {
		*d = DebugMeta{}
		return nil
	}
	*d = *parsed
	return nil
}

func (img *DebugMetaImage) WriteTo(w *wire.Writer) {
	w.BeginObject()
	w.String("type", img.Type)
	w.Hex("image_addr", img.ImageAddr)
	w.Hex("image_vmaddr", img.ImageVmaddr)
	w.Int("image_size", img.ImageSize)
	w.String("debug_id", img.DebugID)
	w.String("debug_file", img.DebugFile)
	w.String("code_id", img.CodeID)
	w.String("code_file", img.CodeFile)
	w.String("arch", img.Arch)
	w.String("uuid", img.UUID)
	w.EndObject()
}

func debugMetaFromNode(n wire.Node) *DebugMeta {
	if !n.Exists() || n.IsNull() {
		return nil
	}
	d := &DebugMeta{}
	if info := n.Get("sdk_info"); info.Exists() && !info.IsNull() {
		d.SdkInfo = &DebugMetaSdkInfo{}
		d.SdkInfo.SdkName, _ = info.Get("sdk_name").Str()
		d.SdkInfo.VersionMajor, _ = info.Get("version_major").Int64()
		d.SdkInfo.VersionMinor, _ = info.Get("version_minor").Int64()
		d.SdkInfo.VersionPatchlevel, _ = info.Get("version_patchlevel").Int64()
	}
	if images, ok := n.Get("images").Array(); ok {
		d.Images = make([]DebugMetaImage, 0, len(images))
		for _, node := range images {
			d.Images = append(d.Images, debugMetaImageFromNode(node))
		}
	}
	return d
}

func debugMetaImageFromNode(n wire.Node) DebugMetaImage {
	img := DebugMetaImage{}
	img.Type, _ = n.Get("type").Str()
	img.ImageAddr, _ = n.Get("image_addr").Hex()
	img.ImageVmaddr, _ = n.Get("image_vmaddr").Hex()
	img.ImageSize, _ = n.Get("image_size").Int64()
	img.DebugID, _ = n.Get("debug_id").Str()
	img.DebugFile, _ = n.Get("debug_file").Str()
	img.CodeID, _ = n.Get("code_id").Str()
	img.CodeFile, _ = n.Get("code_file").Str()
	img.Arch, _ = n.Get("arch").Str()
	img.UUID, _ = n.Get("uuid").Str()
	return img
}

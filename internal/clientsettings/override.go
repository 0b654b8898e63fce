package clientsettings

// OverrideLayer is a (Data, Mask) pair bitwise aligned to the settings
// packet (spec §4.6 GLOSSARY). A set bit in Mask means "override
// active"; the corresponding bits of Data hold the override value.
type OverrideLayer struct {
	Data Packet
	Mask Packet
}

// Set marks id as overridden with value v.
func (o *OverrideLayer) Set(id ClientSettingIdentifier, v int32) {
	o.Data.SetBits(id, v)
	mask := (uint32(1)<<id.BitLength - 1) << id.BitOffset
	container := o.Mask.readContainer(id.FieldType, id.ByteOffset)
	o.Mask.writeContainer(id.FieldType, id.ByteOffset, container|mask)
}

// Clear removes any override for id; its mask bits become zero.
func (o *OverrideLayer) Clear(id ClientSettingIdentifier) {
	mask := (uint32(1)<<id.BitLength - 1) << id.BitOffset
	container := o.Mask.readContainer(id.FieldType, id.ByteOffset)
	o.Mask.writeContainer(id.FieldType, id.ByteOffset, container&^mask)
}

// TryGet returns id's overridden value, if every bit of id is
// currently marked overridden.
func (o *OverrideLayer) TryGet(id ClientSettingIdentifier) (int32, bool) {
	mask := (uint32(1)<<id.BitLength - 1) << id.BitOffset
	container := o.Mask.readContainer(id.FieldType, id.ByteOffset)
	if container&mask != mask {
		return 0, false
	}
	return o.Data.GetBits(id), true
}

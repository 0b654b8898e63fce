package clientsettings

// Merge computes the masked merge of base with arena and player
// override layers, per 32-bit word across all WordCount words (spec
// §4.6):
//
//	dest[i] = (((src[i] &^ arenaMask[i]) | (arenaData[i] & arenaMask[i]))
//	              &^ playerMask[i]) | (playerData[i] & playerMask[i])
func Merge(base *Packet, arenaOverride, playerOverride *OverrideLayer) *Packet {
	var dest Packet
	for i := 0; i < WordCount; i++ {
		off := i * 4
		src := base.word32(off)
		aData := arenaOverride.Data.word32(off)
		aMask := arenaOverride.Mask.word32(off)
		pData := playerOverride.Data.word32(off)
		pMask := playerOverride.Mask.word32(off)

		merged := ((src &^ aMask) | (aData & aMask)) &^ pMask
		merged |= pData & pMask
		dest.setWord32(off, merged)
	}
	return &dest
}

package security

// Permission is a single bit of the P entry's access-permission bitmask
// (Table 22 of ISO 32000-2). Bits are numbered from 1 as in that table;
// unused/reserved bits are fixed at 1 and are set automatically by
// Encode.
type Permission int32

const (
	PermPrint        Permission = 1 << 2  // bit 3
	PermModify       Permission = 1 << 3  // bit 4
	PermExtract      Permission = 1 << 4  // bit 5
	PermAnnotate     Permission = 1 << 5  // bit 6
	PermFillForms    Permission = 1 << 8  // bit 9
	PermAccessibility Permission = 1 << 9 // bit 10
	PermAssemble     Permission = 1 << 10 // bit 11
	PermPrintHighRes Permission = 1 << 11 // bit 12
)

// reservedOnes are the bits ISO 32000-2 Table 22 requires to always be 1,
// regardless of granted permissions: bits 7, 8, and 13-32.
const reservedOnes int32 = -3904 // two's complement of 0xFFFFF0C0

// Encode packs a set of permission bits into a P entry value, forcing the
// reserved bits to 1 as required by §7.6.4.2.
func Encode(perms Permission) int32 {
	return int32(perms) | reservedOnes
}

// Has reports whether perm is granted in the raw P entry value p.
func Has(p int32, perm Permission) bool {
	return p&int32(perm) != 0
}

// Has reports whether every bit of perm is set in p, for use on the P entry
// value returned directly as a Permission bitmask (e.g. from
// Handler.Params.P).
func (p Permission) Has(perm Permission) bool {
	return p&perm == perm
}

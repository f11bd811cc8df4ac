package contenthash

// MachineId is an opaque peer identifier, assigned by the cluster-state
// membership service (§3; that service is an external collaborator,
// consumed only through the interfaces in pkg/resolver and pkg/session).
type MachineId string

// MachineLocation is an opaque, dialable address for a peer (§3). What it
// actually contains (host:port, a UNC path, ...) is a concern of the
// file-copy transport, not of this core.
type MachineLocation string

// UnknownSize marks a ContentHashWithSize whose byte length is not yet
// known; the copy engine verifies the real size after copying (§3).
const UnknownSize int64 = -1

// ContentHashWithSize pairs a hash with its (possibly unknown) byte length.
type ContentHashWithSize struct {
	Hash ContentHash
	Size int64
}

// SizeKnown reports whether Size carries a real value rather than the
// UnknownSize sentinel.
func (c ContentHashWithSize) SizeKnown() bool { return c.Size != UnknownSize }

// LocationOrigin tags where a candidate location list came from, for
// diagnostics; it has no bearing on retry semantics.
type LocationOrigin string

const (
	OriginContentResolver LocationOrigin = "content-resolver"
	OriginRing            LocationOrigin = "ring"
)

// ContentHashWithSizeAndLocations is what the content resolver (C7) hands
// back to the session/copy engine: a hash, its size, and the ordered list
// of peers known to have it (§3; "candidate order is the search order").
type ContentHashWithSizeAndLocations struct {
	ContentHashWithSize

	// Locations is the ordered list of candidate peers to try, in search
	// order.
	Locations []MachineLocation

	// FilteredOutLocations holds peers known to the resolver but excluded
	// up front (e.g. known-inactive), kept only as a diagnostic hint.
	FilteredOutLocations []MachineLocation

	// Origin records where this candidate set came from.
	Origin LocationOrigin
}

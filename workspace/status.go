package workspace

import "airlock.evalgo.org/request"

// FileStatus is the state of a workspace file relative to the viewer's
// current release request and the workspace's release history.
type FileStatus string

const (
	// StatusUnreleased: the file is not on any request.
	StatusUnreleased FileStatus = "UNRELEASED"
	// StatusUnderReview: the file is on the current request with a
	// matching content hash.
	StatusUnderReview FileStatus = "UNDER_REVIEW"
	// StatusContentUpdated: the file is on the current request but its
	// workspace content has changed since the snapshot was taken.
	StatusContentUpdated FileStatus = "CONTENT_UPDATED"
	// StatusReleased: a file with this exact content has been released
	// from this workspace before.
	StatusReleased FileStatus = "RELEASED"
	// StatusWithdrawn: the file was withdrawn from the current request
	// after review began.
	StatusWithdrawn FileStatus = "WITHDRAWN"
)

// FileStatusFor derives the status of a workspace file. current is the
// viewer's active request for the workspace (nil if none);
// releasedHashes holds the content hashes of every file released from
// this workspace on earlier requests.
//
// The released check is hash-based: the same path re-produced with new
// content reads as unreleased, so it can go through review again.
func FileStatusFor(current *request.Request, contentHash string, relpath string, releasedHashes map[string]bool) FileStatus {
	if releasedHashes[contentHash] {
		return StatusReleased
	}
	if current == nil {
		return StatusUnreleased
	}
	f, _ := current.FileByRelpath(relpath)
	if f == nil {
		return StatusUnreleased
	}
	if f.IsWithdrawn() {
		return StatusWithdrawn
	}
	if f.ContentHash != contentHash {
		return StatusContentUpdated
	}
	return StatusUnderReview
}

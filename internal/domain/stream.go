package domain

// StreamSelection describes the release the host resolved and expects
// every guest to play. InfoHash may legitimately be absent; SourceTitle
// is always populated and serves as the fallback matching key.
type StreamSelection struct {
	InfoHash    string
	FileIndex   int
	Quality     string
	URL         string
	SourceTitle string
}

func (s StreamSelection) IsZero() bool {
	return s.InfoHash == "" && s.SourceTitle == "" && s.URL == ""
}

// Matches reports whether another selection refers to the same release.
// Hash comparison wins when both sides carry one; otherwise the original
// stream title is the matching key.
func (s StreamSelection) Matches(other StreamSelection) bool {
	if s.InfoHash != "" && other.InfoHash != "" {
		return s.InfoHash == other.InfoHash && s.FileIndex == other.FileIndex
	}
	return s.SourceTitle != "" && s.SourceTitle == other.SourceTitle
}

package remote

// File is one document in the remote store. Name is the path-like key
// used to join against local files; ID is the store's opaque identity
// for the document and survives renames of nothing else in this system
// (names are the join key, identities are bookkeeping).
type File struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// listResponse is returned from GET /files.
type listResponse struct {
	Files []File `json:"files"`
}

// upsertRequest is the payload for PUT /files/{name}.
type upsertRequest struct {
	Content string `json:"content"`
}

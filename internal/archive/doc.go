// Package archive retrieves archived copies of pages from web-archive
// mirrors when the original site cannot be fetched. A Router owns one backoff
// per backend and sends each lookup to whichever backend is available first.
package archive

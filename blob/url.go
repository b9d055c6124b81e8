package blob

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/joshuapare/flashdm/pkg/types"
)

// Endpoint is a blob URL split into its parts:
//
//	https://account.blob.core.windows.net/container/file.bin?sv=...
//	\___/   \__________________________/ \_______/ \______/ \____/
//	protocol           host              container  file    sas token
type Endpoint struct {
	URL       string
	Protocol  string
	Host      string
	Resource  string // everything after the host, query included
	Path      string // container/file, query excluded
	Container string
	FileName  string
	SASToken  string
}

// ParseURL splits raw into an Endpoint. URLs with directories between the
// container and the file are not supported yet.
func ParseURL(raw string) (Endpoint, error) {
	ep := Endpoint{URL: raw}

	proto, rest, ok := strings.Cut(raw, "://")
	if !ok || proto == "" {
		return Endpoint{}, types.Errorf(types.ErrKindArgument, "blob url %q has no protocol", redact(raw))
	}
	ep.Protocol = proto

	host, resource, ok := strings.Cut(rest, "/")
	if !ok || host == "" {
		return Endpoint{}, types.Errorf(types.ErrKindArgument, "blob url %q has no resource", redact(raw))
	}
	ep.Host = host
	ep.Resource = resource

	path, sas, _ := strings.Cut(resource, "?")
	ep.Path = path
	ep.SASToken = sas

	container, file, ok := strings.Cut(path, "/")
	if !ok || container == "" {
		return Endpoint{}, types.Errorf(types.ErrKindArgument, "blob url %q has no container", redact(raw))
	}
	if strings.Contains(file, "/") {
		return Endpoint{}, types.Wrap(types.ErrKindNotImplemented,
			"blob url "+redact(raw)+": directories", types.ErrNotImplemented)
	}
	if file == "" {
		return Endpoint{}, types.Errorf(types.ErrKindArgument, "blob url %q has no file name", redact(raw))
	}
	ep.Container = container
	ep.FileName = file
	return ep, nil
}

// PackageName derives the package name from the file name of a blob URL by
// stripping its extension. The result is NFC normalized.
func PackageName(raw string) (string, error) {
	ep, err := ParseURL(raw)
	if err != nil {
		return "", err
	}
	return ep.PackageName()
}

// PackageName is the file name without its extension.
func (e Endpoint) PackageName() (string, error) {
	dot := strings.LastIndexByte(e.FileName, '.')
	if dot <= 0 {
		return "", types.Errorf(types.ErrKindArgument, "blob file %q has no extension", e.FileName)
	}
	return norm.NFC.String(e.FileName[:dot]), nil
}

// String returns the URL with the SAS token redacted, for logs.
func (e Endpoint) String() string {
	return redact(e.URL)
}

func redact(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i] + "?<redacted>"
	}
	return raw
}

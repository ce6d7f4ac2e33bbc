package webdav

import (
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/stardustai/webdav-viewer/storage"
)

const propfindBody = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:">
  <d:prop>
    <d:displayname/>
    <d:getcontentlength/>
    <d:getlastmodified/>
    <d:getcontenttype/>
    <d:getetag/>
    <d:resourcetype/>
  </d:prop>
</d:propfind>`

type multistatus struct {
	XMLName   xml.Name   `xml:"DAV: multistatus"`
	Responses []response `xml:"DAV: response"`
}

type response struct {
	Href      string     `xml:"DAV: href"`
	Propstats []propstat `xml:"DAV: propstat"`
}

type propstat struct {
	Prop   prop   `xml:"DAV: prop"`
	Status string `xml:"DAV: status"`
}

type prop struct {
	DisplayName   string       `xml:"DAV: displayname"`
	ContentLength string       `xml:"DAV: getcontentlength"`
	LastModified  string       `xml:"DAV: getlastmodified"`
	ContentType   string       `xml:"DAV: getcontenttype"`
	ETag          string       `xml:"DAV: getetag"`
	ResourceType  resourceType `xml:"DAV: resourcetype"`
}

type resourceType struct {
	Collection *struct{} `xml:"DAV: collection"`
}

// parseMultistatus decodes a PROPFIND body into storage files. basePath is
// the unescaped path of the connection root; hrefs are made relative to it
// so Filename is a storage path.
func parseMultistatus(r io.Reader, basePath string) ([]storage.StorageFile, error) {
	var ms multistatus
	if err := xml.NewDecoder(r).Decode(&ms); err != nil {
		return nil, storage.Errorf(storage.KindRequestFailed, "decode multistatus: %w", err)
	}
	files := make([]storage.StorageFile, 0, len(ms.Responses))
	for _, resp := range ms.Responses {
		p, ok := okProp(resp.Propstats)
		if !ok {
			continue
		}
		name, err := hrefPath(resp.Href, basePath)
		if err != nil {
			continue
		}
		f := storage.StorageFile{
			Filename: name,
			Basename: path.Base(name),
			Lastmod:  p.LastModified,
			Mime:     p.ContentType,
			ETag:     strings.Trim(p.ETag, `"`),
			Type:     storage.FileTypeFile,
		}
		if p.ResourceType.Collection != nil {
			f.Type = storage.FileTypeDirectory
		} else if n, err := strconv.ParseUint(strings.TrimSpace(p.ContentLength), 10, 64); err == nil {
			f.Size = n
		}
		if name == "/" {
			f.Basename = "/"
		}
		files = append(files, f)
	}
	return files, nil
}

// okProp returns the first propstat with a 200 status.
func okProp(stats []propstat) (prop, bool) {
	for _, ps := range stats {
		fields := strings.Fields(ps.Status)
		if len(fields) >= 2 && fields[1] == strconv.Itoa(http.StatusOK) {
			return ps.Prop, true
		}
	}
	return prop{}, false
}

func hrefPath(href, basePath string) (string, error) {
	u, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	p := path.Clean("/" + u.Path)
	base := path.Clean("/" + basePath)
	if base != "/" {
		if p != base && !strings.HasPrefix(p, base+"/") {
			return "", storage.Errorf(storage.KindRequestFailed, "href %q outside %q", href, base)
		}
		p = path.Clean("/" + strings.TrimPrefix(p, base))
	}
	return p, nil
}

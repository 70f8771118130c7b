package storage

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

const gcsScheme = "gs://"

var (
	errInvalidBucket = errors.New("storage: bucket name is required")
	errInvalidObject = errors.New("storage: object name is required")
)

// Object names one file in a bucket.
type Object struct {
	Bucket string
	Name   string
}

// FileName is the last path segment, used as the download file name.
func (o Object) FileName() string {
	return path.Base(o.Name)
}

// ResolveObject turns an entitlement download target into an Object. Targets are
// either gs://bucket/name or a name inside defaultBucket.
func ResolveObject(defaultBucket, target string) (Object, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return Object{}, errInvalidObject
	}

	obj := Object{Bucket: strings.TrimSpace(defaultBucket), Name: target}
	if rest, ok := strings.CutPrefix(target, gcsScheme); ok {
		bucket, name, found := strings.Cut(rest, "/")
		if !found || bucket == "" {
			return Object{}, fmt.Errorf("storage: malformed target %q", target)
		}
		obj = Object{Bucket: bucket, Name: name}
	}
	if obj.Bucket == "" {
		return Object{}, errInvalidBucket
	}

	obj.Name = strings.TrimPrefix(obj.Name, "/")
	if obj.Name == "" || strings.HasSuffix(obj.Name, "/") {
		return Object{}, errInvalidObject
	}
	if strings.Contains(obj.Name, `\`) {
		return Object{}, fmt.Errorf("storage: target %q contains a backslash", target)
	}
	for _, segment := range strings.Split(obj.Name, "/") {
		switch segment {
		case "", ".", "..":
			return Object{}, fmt.Errorf("storage: target %q is not a clean path", target)
		}
	}
	return obj, nil
}

// AttachmentDisposition forces browsers to save the file under its own name.
func AttachmentDisposition(fileName string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '"', '\r', '\n':
			return -1
		}
		return r
	}, strings.TrimSpace(fileName))
	if name == "" || name == "." || name == "/" {
		return "attachment"
	}
	return `attachment; filename="` + name + `"`
}

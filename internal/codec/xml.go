// Package codec converts unsigned licenses to and from their XML wire document.
package codec

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/makkenzo/license-engine/internal/domain/license"
	"github.com/makkenzo/license-engine/internal/ierr"
)

// XMLPrefix marks text documents. Anything else is treated as a signed blob.
var XMLPrefix = []byte("<?xml ")

func IsXML(content []byte) bool {
	return bytes.HasPrefix(content, XMLPrefix)
}

type document struct {
	XMLName      xml.Name      `xml:"license"`
	ID           string        `xml:"id"`
	Type         string        `xml:"type"`
	Features     []feature     `xml:"features>feature"`
	Restrictions *restrictions `xml:"restrictions,omitempty"`
	Licensee     []property    `xml:"licensee>property"`
}

type feature struct {
	ID      string `xml:"id,attr"`
	Version string `xml:"version,attr,omitempty"`
}

type restrictions struct {
	Instances []string `xml:"instances>instance,omitempty"`
	Expire    string   `xml:"expire,omitempty"`
	Users     string   `xml:"users,omitempty"`
}

type property struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

// Encode renders l as an XML document. Licenses without features or licensee
// information are rejected.
func Encode(l license.License) ([]byte, error) {
	features := l.Features()
	if len(features) == 0 {
		return nil, fmt.Errorf("%w: license %s has no features", ierr.ErrEncoding, l.ID())
	}
	licensee := l.Licensee()
	if len(licensee) == 0 {
		return nil, fmt.Errorf("%w: license %s has no licensee", ierr.ErrEncoding, l.ID())
	}

	doc := document{
		ID:   l.ID().String(),
		Type: l.Type().String(),
	}
	for _, f := range features {
		doc.Features = append(doc.Features, feature{ID: f.Name, Version: f.Constraint})
	}

	keys := make([]string, 0, len(licensee))
	for k := range licensee {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		doc.Licensee = append(doc.Licensee, property{Key: k, Value: licensee[k]})
	}

	if license.HasRestrictions(l) {
		r := &restrictions{}
		for _, i := range l.Instances() {
			r.Instances = append(r.Instances, string(i))
		}
		if !l.ExpiresAt().Equal(license.NeverExpires) {
			r.Expire = l.ExpiresAt().UTC().Format(time.RFC3339Nano)
		}
		if l.MaxUsers() != license.Unlimited {
			r.Users = strconv.FormatInt(l.MaxUsers(), 10)
		}
		doc.Restrictions = r
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ierr.ErrEncoding, err)
	}
	return append([]byte(xml.Header), body...), nil
}

// Decode parses an XML document into an unsigned license.
func Decode(content []byte) (*license.Unsigned, error) {
	var doc document
	if err := xml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ierr.ErrDecoding, err)
	}

	l := license.NewUnsigned()

	if doc.ID != "" {
		id, err := uuid.Parse(doc.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: id %q: %v", ierr.ErrDecoding, doc.ID, err)
		}
		l.SetID(id)
	}

	if doc.Type != "" {
		typ, err := license.ParseType(doc.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ierr.ErrDecoding, err)
		}
		l.SetType(typ)
	}

	for _, f := range doc.Features {
		fid, err := license.NewFeatureID(f.ID, f.Version)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ierr.ErrDecoding, err)
		}
		l.AddFeature(fid)
	}

	if r := doc.Restrictions; r != nil {
		for _, i := range r.Instances {
			l.AddInstance(license.InstanceID(i))
		}
		if r.Expire != "" {
			expire, err := time.Parse(time.RFC3339Nano, r.Expire)
			if err != nil {
				return nil, fmt.Errorf("%w: expire %q: %v", ierr.ErrDecoding, r.Expire, err)
			}
			l.SetExpiresAt(expire.UTC())
		}
		if r.Users != "" {
			users, err := strconv.ParseInt(r.Users, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: users %q: %v", ierr.ErrDecoding, r.Users, err)
			}
			l.SetMaxUsers(users)
		}
	}

	for _, p := range doc.Licensee {
		l.SetLicenseeAttr(p.Key, p.Value)
	}

	return l, nil
}

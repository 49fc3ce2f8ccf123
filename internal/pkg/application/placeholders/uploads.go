package placeholders

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/diwise/field-sync/internal/pkg/application/taskqueue"
	"github.com/diwise/field-sync/pkg/records"
)

var ErrBadDataURL = fmt.Errorf("malformed data url")

type upload struct {
	owner        records.RecordRef
	relationship string
	ref          records.RecordRef
}

func (r *Resolver) uploadFiles(ctx context.Context, task *taskqueue.Task) error {
	for _, u := range uploads(task.Transform) {
		if canonical, ok := r.canonical(u.ref.ID); ok {
			if err := r.replace(ctx, u.ref, canonical, nil); err != nil {
				return err
			}
			continue
		}

		content, err := decodeDataURL(u.ref.Upload.FileDataURL)
		if err != nil {
			return err
		}

		file, err := r.client.UploadFile(ctx, u.owner.Type, u.relationship, u.ref.Upload.FileName, content)
		if err != nil {
			return err
		}

		r.remember(u.ref.ID, file)

		if err = r.replace(ctx, u.ref, file, nil); err != nil {
			return err
		}
	}

	return nil
}

// uploads returns every ref carrying an $upload directive together with the
// record and relationship it is attached to
func uploads(t *records.Transform) []upload {
	result := []upload{}

	add := func(owner records.RecordRef, relationship string, refs ...records.RecordRef) {
		for _, ref := range refs {
			if ref.Upload != nil {
				result = append(result, upload{owner: owner, relationship: relationship, ref: ref})
			}
		}
	}

	for _, op := range t.Operations {
		switch o := op.(type) {
		case records.AddRecord:
			for name, rd := range o.Record.Relationships {
				add(o.Record.Ref(), name, rd.Refs()...)
			}
		case records.UpdateRecord:
			for name, rd := range o.Record.Relationships {
				add(o.Record.Ref(), name, rd.Refs()...)
			}
		case records.AddToRelatedRecords:
			add(o.Record, o.Relationship, o.RelatedRecord)
		case records.ReplaceRelatedRecords:
			add(o.Record, o.Relationship, o.RelatedRecords...)
		case records.ReplaceRelatedRecord:
			if o.RelatedRecord != nil {
				add(o.Record, o.Relationship, *o.RelatedRecord)
			}
		}
	}

	return result
}

// decodeDataURL returns the content of a data: url, base64 or percent encoded
func decodeDataURL(dataURL string) ([]byte, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return nil, ErrBadDataURL
	}

	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, ErrBadDataURL
	}

	if strings.HasSuffix(meta, ";base64") {
		content, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("%s (%w)", err.Error(), ErrBadDataURL)
		}
		return content, nil
	}

	content, err := url.PathUnescape(data)
	if err != nil {
		return nil, fmt.Errorf("%s (%w)", err.Error(), ErrBadDataURL)
	}
	return []byte(content), nil
}

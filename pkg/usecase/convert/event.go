package convert

import (
	"encoding/json"
	"net/url"

	"github.com/m-mizutani/finagent/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// ObjectRef locates an object in a bucket
type ObjectRef struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

func (r ObjectRef) String() string {
	return r.Bucket + "/" + r.Key
}

type s3Event struct {
	Records []struct {
		EventSource string `json:"eventSource"`
		S3          struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// ParseS3Event decodes an S3 event notification. Object keys arrive
// URL-encoded with '+' for spaces.
func ParseS3Event(data []byte) ([]ObjectRef, error) {
	var ev s3Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, goerr.Wrap(model.ErrInvalidEvent, "failed to decode S3 event", goerr.V("error", err.Error()))
	}
	if len(ev.Records) == 0 {
		return nil, goerr.Wrap(model.ErrInvalidEvent, "S3 event has no records")
	}

	refs := make([]ObjectRef, 0, len(ev.Records))
	for i, rec := range ev.Records {
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, goerr.Wrap(model.ErrInvalidEvent, "malformed object key",
				goerr.V("index", i), goerr.V("key", rec.S3.Object.Key))
		}
		ref := ObjectRef{Bucket: rec.S3.Bucket.Name, Key: key}
		if ref.Bucket == "" || ref.Key == "" {
			return nil, goerr.Wrap(model.ErrInvalidEvent, "S3 record lacks bucket or key", goerr.V("index", i))
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

type gcsObject struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

type pubsubPush struct {
	Message *struct {
		Attributes map[string]string `json:"attributes"`
	} `json:"message"`
}

// ParseGCSEvent decodes a Cloud Storage object-finalize payload, given either as
// the object resource itself or wrapped in a Pub/Sub push envelope
func ParseGCSEvent(data []byte) ([]ObjectRef, error) {
	var push pubsubPush
	if err := json.Unmarshal(data, &push); err != nil {
		return nil, goerr.Wrap(model.ErrInvalidEvent, "failed to decode GCS event", goerr.V("error", err.Error()))
	}
	if push.Message != nil {
		ref := ObjectRef{
			Bucket: push.Message.Attributes["bucketId"],
			Key:    push.Message.Attributes["objectId"],
		}
		if ref.Bucket == "" || ref.Key == "" {
			return nil, goerr.Wrap(model.ErrInvalidEvent, "Pub/Sub message lacks bucketId or objectId")
		}
		return []ObjectRef{ref}, nil
	}

	var obj gcsObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, goerr.Wrap(model.ErrInvalidEvent, "failed to decode GCS event", goerr.V("error", err.Error()))
	}
	if obj.Bucket == "" || obj.Name == "" {
		return nil, goerr.Wrap(model.ErrInvalidEvent, "GCS event lacks bucket or name")
	}
	return []ObjectRef{{Bucket: obj.Bucket, Key: obj.Name}}, nil
}

// ParseEvent detects the event flavor from its shape
func ParseEvent(data []byte) ([]ObjectRef, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, goerr.Wrap(model.ErrInvalidEvent, "event is not a JSON object", goerr.V("error", err.Error()))
	}
	if _, ok := fields["Records"]; ok {
		return ParseS3Event(data)
	}
	return ParseGCSEvent(data)
}

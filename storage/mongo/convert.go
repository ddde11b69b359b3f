package mongo

import (
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/poiesic/persist/storage"
)

const (
	idKey    = "_id"
	classKey = "_class"
)

// FormatIdentity renders a record identity as "#collection:objectid".
func FormatIdentity(collection string, oid primitive.ObjectID) string {
	return "#" + collection + ":" + oid.Hex()
}

// ParseIdentity parses an identity produced by FormatIdentity.
func ParseIdentity(id string) (string, primitive.ObjectID, error) {
	rest, ok := strings.CutPrefix(id, "#")
	if !ok {
		return "", primitive.NilObjectID, fmt.Errorf("%w: %q", storage.ErrInvalidIdentity, id)
	}
	collection, hex, ok := strings.Cut(rest, ":")
	if !ok || collection == "" {
		return "", primitive.NilObjectID, fmt.Errorf("%w: %q", storage.ErrInvalidIdentity, id)
	}
	oid, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return "", primitive.NilObjectID, fmt.Errorf("%w: %q", storage.ErrInvalidIdentity, id)
	}
	return collection, oid, nil
}

// toBSON converts doc into a BSON document carrying a class marker.
// Field order is deterministic.
func toBSON(doc *storage.Document) (bson.D, error) {
	out := make(bson.D, 0, doc.Len()+1)
	out = append(out, bson.E{Key: classKey, Value: doc.Class})
	for _, name := range doc.FieldNames() {
		if name == idKey || name == classKey {
			continue
		}
		v, _ := doc.Field(name)
		bv, err := toBSONValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		out = append(out, bson.E{Key: name, Value: bv})
	}
	return out, nil
}

func toBSONValue(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, int64, float64, string:
		return v, nil
	case time.Time:
		return primitive.NewDateTimeFromTime(t), nil
	case *storage.Document:
		d, err := toBSON(t)
		if err != nil {
			return nil, err
		}
		if t.Identity != "" {
			d = append(d, bson.E{Key: idKey, Value: t.Identity})
		}
		return d, nil
	case []any:
		out := make(bson.A, len(t))
		for i, item := range t {
			bv, err := toBSONValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = bv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", storage.ErrSerializationFailed, v)
	}
}

// fromBSON converts a decoded top-level record of collection back into a
// document.
func fromBSON(collection string, m bson.M) (*storage.Document, error) {
	doc, err := embeddedFromBSON(m)
	if err != nil {
		return nil, err
	}
	if oid, ok := m[idKey].(primitive.ObjectID); ok {
		doc.Identity = FormatIdentity(collection, oid)
	}
	return doc, nil
}

func embeddedFromBSON(m map[string]any) (*storage.Document, error) {
	class, _ := m[classKey].(string)
	doc := storage.NewDocument(class)
	if id, ok := m[idKey].(string); ok {
		doc.Identity = id
	}
	for name, raw := range m {
		if name == idKey || name == classKey {
			continue
		}
		v, err := fromBSONValue(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		doc.SetField(name, v)
	}
	return doc, nil
}

func fromBSONValue(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, int64, float64, string:
		return v, nil
	case int32:
		return int64(t), nil
	case primitive.DateTime:
		return t.Time().UTC(), nil
	case time.Time:
		return t.UTC(), nil
	case primitive.ObjectID:
		return t.Hex(), nil
	case primitive.M:
		return embeddedFromBSON(t)
	case map[string]any:
		return embeddedFromBSON(t)
	case primitive.D:
		return embeddedFromBSON(t.Map())
	case primitive.A:
		return listFromBSON(t)
	case []any:
		return listFromBSON(t)
	default:
		return nil, fmt.Errorf("%w: unsupported BSON type %T", storage.ErrSerializationFailed, v)
	}
}

func listFromBSON(items []any) ([]any, error) {
	out := make([]any, len(items))
	for i, item := range items {
		v, err := fromBSONValue(item)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

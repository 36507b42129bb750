package badger

import (
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"

	"github.com/poiesic/lessonrag/storage"
)

// facet counts the chunks stored for one class, subject and chapter.
// The original casing is kept in the value because keys are case folded.
type facet struct {
	ClassGrade string
	Subject    string
	Chapter    string
	Count      int
}

func marshalFacet(f facet) []byte {
	size := varint.Int.Size(f.Count) + ord.String.Size(f.ClassGrade) +
		ord.String.Size(f.Subject) + ord.String.Size(f.Chapter)
	buf := make([]byte, size)
	n := varint.Int.Marshal(f.Count, buf)
	n += ord.String.Marshal(f.ClassGrade, buf[n:])
	n += ord.String.Marshal(f.Subject, buf[n:])
	ord.String.Marshal(f.Chapter, buf[n:])
	return buf
}

func unmarshalFacet(data []byte) (f facet, err error) {
	count, n, err := varint.Int.Unmarshal(data)
	if err != nil {
		return f, storage.ErrSerializationFailed
	}
	f.Count = count
	var m int
	for _, field := range []*string{&f.ClassGrade, &f.Subject, &f.Chapter} {
		*field, m, err = ord.String.Unmarshal(data[n:])
		if err != nil {
			return f, storage.ErrSerializationFailed
		}
		n += m
	}
	return f, nil
}

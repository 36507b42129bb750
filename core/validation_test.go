package core

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestValidateChunk(t *testing.T) {
	long := strings.Repeat("x", MinChunkLength)

	tests := []struct {
		name    string
		chunk   *Chunk
		wantErr error
	}{
		{
			name:    "valid chunk",
			chunk:   &Chunk{ClassGrade: "10", Subject: "Science", Content: long},
			wantErr: nil,
		},
		{
			name:    "valid chunk without embedding",
			chunk:   &Chunk{ClassGrade: "10", Subject: "Science", Content: long, Embedding: nil},
			wantErr: nil,
		},
		{
			name:    "nil chunk",
			chunk:   nil,
			wantErr: ErrInvalidChunk,
		},
		{
			name:    "short content",
			chunk:   &Chunk{ClassGrade: "10", Subject: "Science", Content: long[1:]},
			wantErr: ErrContentTooShort,
		},
		{
			name:    "missing subject",
			chunk:   &Chunk{ClassGrade: "10", Subject: "  ", Content: long},
			wantErr: ErrMissingProvenance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChunk(tt.chunk)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateChunk() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateChunk() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidChunk) {
				t.Errorf("ValidateChunk() error should wrap ErrInvalidChunk, got %v", err)
			}
		})
	}
}

func TestValidateQuestion(t *testing.T) {
	tests := []struct {
		name     string
		question string
		want     string
		wantErr  error
	}{
		{"trimmed", "  What is a cell?  ", "What is a cell?", nil},
		{"empty", "", "", ErrEmptyQuestion},
		{"blank", " \t\n", "", ErrEmptyQuestion},
		{"too short", "hi", "", ErrQuestionTooShort},
		{"too long", strings.Repeat("q", MaxQuestionLength+1), "", ErrQuestionTooLong},
		{"max length", strings.Repeat("q", MaxQuestionLength), strings.Repeat("q", MaxQuestionLength), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateQuestion(tt.question)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) || !errors.Is(err, ErrValidation) {
					t.Errorf("ValidateQuestion() error = %v, want %v wrapped in ErrValidation", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateQuestion() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ValidateQuestion() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizeMetadata(t *testing.T) {
	in := map[string]string{
		MetaSourceFile: "ch1.txt",
		MetaChunkIndex: "3",
		"uploaded_by":  "someone",
	}
	out := SanitizeMetadata(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 keys, got %v", out)
	}
	if _, ok := out["uploaded_by"]; ok {
		t.Errorf("unrecognized key survived: %v", out)
	}
	if SanitizeMetadata(map[string]string{"x": "y"}) != nil {
		t.Errorf("expected nil when no key is recognized")
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero query", []float32{0, 0}, []float32{1, 0}, 0},
		{"zero stored", []float32{1, 0}, []float32{0, 0}, 0},
		{"dimension mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(float64(got-tt.want)) > 1e-6 {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsZeroVector(t *testing.T) {
	if !IsZeroVector(ZeroVector(768)) {
		t.Errorf("ZeroVector(768) should be zero")
	}
	if len(ZeroVector(768)) != 768 {
		t.Errorf("ZeroVector has wrong dimension")
	}
	if IsZeroVector([]float32{0, 0, 0.1}) {
		t.Errorf("non-zero vector reported as zero")
	}
}

func TestNormalizeVector(t *testing.T) {
	v := NormalizeVector([]float32{3, 4})
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("NormalizeVector() = %v, want [0.6 0.8]", v)
	}
	z := NormalizeVector([]float32{0, 0})
	if !IsZeroVector(z) {
		t.Errorf("normalizing a zero vector should stay zero, got %v", z)
	}
}

func TestClampUnit(t *testing.T) {
	if ClampUnit(-0.2) != 0 || ClampUnit(1.5) != 1 || ClampUnit(0.42) != 0.42 {
		t.Errorf("ClampUnit() out of bounds")
	}
}

func TestNormalizeFilters(t *testing.T) {
	got := NormalizeFilters(Filters{ClassGrade: " 10 ", Subject: "\tScience\n"})
	if got != (Filters{ClassGrade: "10", Subject: "Science"}) {
		t.Errorf("NormalizeFilters() = %+v", got)
	}
	if !NormalizeFilters(Filters{ClassGrade: "  "}).IsEmpty() {
		t.Errorf("blank filters should normalize to empty")
	}
}

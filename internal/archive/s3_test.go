package archive

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teleconsult-server/internal/models"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, f.err
}

func record() *models.MedicalRecord {
	rec := &models.MedicalRecord{AppointmentID: "appt-1", PatientID: "pat-1", DiagnosisPrimary: "Viêm họng cấp"}
	rec.ID = "visit-1"
	return rec
}

func TestArchive_PutsJSON(t *testing.T) {
	f := &fakePutter{}
	a := NewS3Archiver(f, "records-bucket", zerolog.Nop())

	require.NoError(t, a.Archive(context.Background(), record()))
	assert.Equal(t, "records-bucket", aws.ToString(f.input.Bucket))
	assert.Equal(t, "records/pat-1/appt-1/visit-1.json", aws.ToString(f.input.Key))
	assert.Contains(t, string(f.body), `"diagnosisPrimary":"Viêm họng cấp"`)
}

func TestArchive_WrapsError(t *testing.T) {
	boom := errors.New("access denied")
	a := NewS3Archiver(&fakePutter{err: boom}, "b", zerolog.Nop())
	assert.ErrorIs(t, a.Archive(context.Background(), record()), boom)
}

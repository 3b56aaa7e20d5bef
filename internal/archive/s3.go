// Package archive keeps a JSON copy of every committed medical record in S3.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"teleconsult-server/internal/models"
)

// ObjectPutter is the part of the S3 client the archiver uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes records to a bucket.
type S3Archiver struct {
	client ObjectPutter
	bucket string
	log    zerolog.Logger
}

func NewS3Archiver(client ObjectPutter, bucket string, log zerolog.Logger) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, log: log.With().Str("component", "archive").Logger()}
}

// Key returns the object key of a record.
func Key(rec *models.MedicalRecord) string {
	return fmt.Sprintf("records/%s/%s/%s.json", rec.PatientID, rec.AppointmentID, rec.ID)
}

// Archive uploads rec as JSON.
func (a *S3Archiver) Archive(ctx context.Context, rec *models.MedicalRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := Key(rec)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	a.log.Debug().Str("key", key).Int("bytes", len(body)).Msg("record archived")
	return nil
}

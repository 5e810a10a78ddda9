// Package service implements the generate, check and copy operations on
// top of the object store repositories.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/cloudsum/cloudsum/internal/checksum"
	internalerrors "github.com/cloudsum/cloudsum/internal/errors"
	"github.com/cloudsum/cloudsum/internal/repository/objectstore"
	"github.com/cloudsum/cloudsum/internal/sums"
)

// RepositoryFactory creates a repository for a parsed object location.
type RepositoryFactory interface {
	CreateRepository(ctx context.Context, location objectstore.Location) (objectstore.ObjectRepository, error)
}

// Object binds an object location to its repository, metadata and sums
// file. The sums file lives next to the object in the same store.
type Object struct {
	Location objectstore.Location
	Repo     objectstore.ObjectRepository
	Info     objectstore.ObjectInfo
}

// OpenObject resolves a location and heads the object.
func OpenObject(ctx context.Context, factory RepositoryFactory, input string) (*Object, error) {
	location, err := objectstore.ParseLocation(input)
	if err != nil {
		return nil, err
	}
	repo, err := factory.CreateRepository(ctx, location)
	if err != nil {
		return nil, err
	}
	info, err := repo.Head(ctx, location.Key)
	if err != nil {
		return nil, err
	}
	return &Object{Location: location, Repo: repo, Info: info}, nil
}

// LoadRecord returns the object's sums record: the stored sums file when
// one exists, seeded with the store's native checksums. A sums file whose
// size disagrees with the object is stale and is discarded.
func (o *Object) LoadRecord(ctx context.Context) (*sums.Record, error) {
	record, err := o.readSumsFile(ctx)
	if err != nil {
		if !errors.Is(err, internalerrors.ErrNotFound) {
			return nil, err
		}
		record = sums.NewRecord(o.Info.Size)
	} else if record.Size != o.Info.Size {
		log.Warnf("Discarding stale sums file for %s: recorded size %d, object size %d",
			o.Location, record.Size, o.Info.Size)
		record = sums.NewRecord(o.Info.Size)
	}

	if err := record.Merge(seededRecord(o.Info), sums.PreferExisting); err != nil {
		return nil, err
	}
	return record, nil
}

func (o *Object) readSumsFile(ctx context.Context) (*sums.Record, error) {
	reader, err := o.Repo.Download(ctx, o.Location.SumsKey(), true)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading sums file for %s: %w", o.Location, err)
	}
	return sums.Parse(data)
}

// SaveRecord writes the record to the object's sums file.
func (o *Object) SaveRecord(ctx context.Context, record *sums.Record) error {
	if record.Partial {
		return internalerrors.ErrPartialRecord
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding sums file for %s: %w", o.Location, err)
	}
	if _, err := o.Repo.Upload(ctx, o.Location.SumsKey(), bytes.NewReader(data), int64(len(data)), true); err != nil {
		return fmt.Errorf("writing sums file for %s: %w", o.Location, err)
	}
	return nil
}

// seededRecord converts head metadata into a record.
func seededRecord(info objectstore.ObjectInfo) *sums.Record {
	record := sums.NewRecord(info.Size)
	for kindStr, digest := range info.Checksums {
		kind, err := checksum.ParseKind(kindStr)
		if err != nil {
			continue
		}
		if kind.ValidateDigest(digest) == nil {
			record.Set(kind, digest)
		}
	}
	return record
}

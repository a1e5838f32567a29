package deployment

import (
	"io"

	fxcbor "github.com/fxamacker/cbor/v2"
	"github.com/polydawn/refmt"
	"github.com/polydawn/refmt/json"
	"github.com/polydawn/refmt/obj/atlas"
	"github.com/sirupsen/logrus"
	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/treecommit"
	"github.com/polydawn/treecommit/config"
	"github.com/polydawn/treecommit/store"
)

/*
	Descriptor is the fixed eight-field summary of a deployment.

	Every field is always present: strings are "" when unknown (the
	origin refspec is "none"), numbers 0, and signatures an empty list.
*/
type Descriptor struct {
	_             struct{}          `cbor:",toarray"`
	ID            string            `refmt:"id"`
	OSName        string            `refmt:"osname"`
	Serial        int32             `refmt:"serial"`
	Checksum      string            `refmt:"checksum"`
	Version       string            `refmt:"version"`
	Timestamp     uint64            `refmt:"timestamp"`
	OriginRefspec string            `refmt:"origin"`
	Signatures    []store.Signature `refmt:"signatures"`
}

// Refspec reported for a deployment with no origin.
const NoOrigin = "none"

// The JSON shape of a Descriptor.  refmt's json encoder has no unsigned
// integers, so the timestamp goes out signed.
type jsonDescriptor struct {
	ID            string            `refmt:"id"`
	OSName        string            `refmt:"osname"`
	Serial        int32             `refmt:"serial"`
	Checksum      string            `refmt:"checksum"`
	Version       string            `refmt:"version"`
	Timestamp     int64             `refmt:"timestamp"`
	OriginRefspec string            `refmt:"origin"`
	Signatures    []store.Signature `refmt:"signatures"`
}

type jsonUpdateDetails struct {
	OSName        string            `refmt:"osname"`
	Checksum      string            `refmt:"checksum"`
	Version       string            `refmt:"version"`
	Timestamp     int64             `refmt:"timestamp"`
	OriginRefspec string            `refmt:"origin"`
	Signatures    []store.Signature `refmt:"signatures"`
}

var Atlas = atlas.MustBuild(
	atlas.BuildEntry(jsonDescriptor{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(jsonUpdateDetails{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(store.Signature{}).StructMap().Autogenerate().Complete(),
)

// Placeholder for "no deployment": empty strings, serial -1, no signatures.
func BlankDescriptor() Descriptor {
	return Descriptor{
		Serial:     -1,
		Signatures: []store.Signature{},
	}
}

type Builder struct {
	Store store.ContentStore
	Log   logrus.FieldLogger
}

func (b *Builder) log() logrus.FieldLogger {
	if b.Log == nil {
		return config.NullLogger()
	}
	return b.Log
}

/*
	Describe a deployment.  This does not fail: a commit missing from the
	store, an unknown remote, or unverifiable signatures leave the
	affected fields empty, and anything other than plain absence is
	logged as a warning.

	Signatures are only reported when the origin names a remote that
	requires verification.
*/
func (b *Builder) Describe(r Record) Descriptor {
	log := b.log().WithField("deployment", r.Checksum)
	d := Descriptor{
		ID:            GenerateID(r),
		OSName:        r.OSName,
		Serial:        r.Serial,
		Checksum:      r.Checksum,
		OriginRefspec: NoOrigin,
		Signatures:    []store.Signature{},
	}

	d.Version, d.Timestamp = b.commitDetails(log, store.Checksum(r.Checksum))

	if refspec := r.Origin.Tracked(); refspec != "" {
		d.OriginRefspec = refspec
		d.Signatures = b.signatures(log, refspec, store.Checksum(r.Checksum))
	}
	return d
}

// Version and timestamp of a commit; empty if it can't be loaded.
func (b *Builder) commitDetails(log logrus.FieldLogger, c store.Checksum) (version string, timestamp uint64) {
	commit, err := b.Store.LoadCommit(c)
	if err != nil {
		log.Warnf("error loading commit: %s", err)
		return "", 0
	}
	return commit.Metadata[store.MetaVersion], commit.Timestamp
}

/*
	UpdateDetails describe the commit a refspec currently resolves to,
	which is what a deployment tracking that refspec would update to.
*/
type UpdateDetails struct {
	_             struct{}          `cbor:",toarray"`
	OSName        string            `refmt:"osname"`
	Checksum      string            `refmt:"checksum"`
	Version       string            `refmt:"version"`
	Timestamp     uint64            `refmt:"timestamp"`
	OriginRefspec string            `refmt:"origin"`
	Signatures    []store.Signature `refmt:"signatures"`
}

/*
	Describe the head of refspec, for a deployment of r.  An empty refspec
	means the one r's origin tracks.

	False when there's nothing to describe: no refspec at all, or one that
	doesn't resolve in the store (which is logged as a warning).  Like
	Describe, trouble loading the commit or its signatures only leaves
	fields empty.
*/
func (b *Builder) CachedUpdate(r Record, refspec string) (UpdateDetails, bool) {
	log := b.log().WithField("deployment", r.Checksum)
	if refspec == "" {
		refspec = r.Origin.Tracked()
	}
	if refspec == "" {
		return UpdateDetails{}, false
	}
	head, err := b.Store.ResolveRev(refspec, false)
	if err != nil {
		log.Warnf("error resolving revision %s: %s", refspec, err)
		return UpdateDetails{}, false
	}
	u := UpdateDetails{
		OSName:        r.OSName,
		Checksum:      head.String(),
		OriginRefspec: refspec,
	}
	u.Version, u.Timestamp = b.commitDetails(log, head)
	u.Signatures = b.signatures(log, refspec, head)
	return u, true
}

func (b *Builder) signatures(log logrus.FieldLogger, refspec string, c store.Checksum) []store.Signature {
	result := []store.Signature{}
	err := func() error {
		remote, _, err := ParseRefspec(refspec)
		if err != nil || remote == "" {
			return err
		}
		verify, err := b.Store.RemoteGPGVerify(remote)
		if err != nil || !verify {
			return err
		}
		sigs, err := b.Store.VerifyCommitSignatures(c)
		if err != nil {
			return err
		}
		result = sigs
		return nil
	}()
	// Not-found only means unsigned, or a remote since removed.
	if err != nil && Category(err) != store.ErrNotFound {
		log.Warnf("error loading gpg verify result: %s", err)
	}
	return result
}

/*
	Describe every record, in order.  Two records with the same id mean
	the id can't be used to address them; that's
	`treecommit.ErrIDCollision`, naming both.
*/
func (b *Builder) DescribeAll(records []Record) ([]Descriptor, error) {
	seen := make(map[string]int, len(records))
	out := make([]Descriptor, 0, len(records))
	for i, r := range records {
		d := b.Describe(r)
		if j, dup := seen[d.ID]; dup {
			return nil, ErrorDetailed(treecommit.ErrIDCollision,
				"deployments "+records[j].Checksum+" and "+r.Checksum+" share id "+d.ID,
				map[string]string{"id": d.ID})
		}
		seen[d.ID] = i
		out = append(out, d)
	}
	return out, nil
}

// FindByID returns the first record whose generated id is id.
func FindByID(records []Record, id string) (Record, bool) {
	for _, r := range records {
		if GenerateID(r) == id {
			return r, true
		}
	}
	return Record{}, false
}

/*
	Pick the index at which a rollback for osname should be placed.

	The merge deployment is the first one for osname.  If that's at the
	front and another deployment of the same OS follows, that one is the
	rollback target; otherwise it's the merge deployment itself.
*/
func RollbackIndex(records []Record, osname string) (int, error) {
	merge, previous := -1, -1
	for i, r := range records {
		if r.OSName != osname {
			continue
		}
		if merge < 0 {
			merge = i
		} else if previous < 0 {
			previous = i
		}
	}
	if merge < 0 {
		return -1, Errorf(ErrNoDeployment, "no deployments found for os %s", osname)
	}
	if len(records) < 2 {
		return -1, Errorf(ErrNoDeployment, "found %d deployments, at least 2 required for rollback", len(records))
	}
	if merge == 0 && previous > 0 {
		return previous, nil
	}
	return merge, nil
}

// The fixed-order CBOR array form.
func EncodeTuple(d Descriptor) ([]byte, error) {
	return tupleEncMode.Marshal(d)
}

// The fixed-order CBOR array form: (osname, checksum, version, timestamp, origin, signatures).
func EncodeUpdateTuple(u UpdateDetails) ([]byte, error) {
	u.Signatures = nonNil(u.Signatures)
	return tupleEncMode.Marshal(u)
}

// Keyed JSON, for people.
func EncodeJSON(w io.Writer, d Descriptor) error {
	return encodeJSON(w, jsonDescriptor{
		ID:            d.ID,
		OSName:        d.OSName,
		Serial:        d.Serial,
		Checksum:      d.Checksum,
		Version:       d.Version,
		Timestamp:     int64(d.Timestamp),
		OriginRefspec: d.OriginRefspec,
		Signatures:    nonNil(d.Signatures),
	})
}

// Keyed JSON of the update details.
func EncodeUpdateJSON(w io.Writer, u UpdateDetails) error {
	return encodeJSON(w, jsonUpdateDetails{
		OSName:        u.OSName,
		Checksum:      u.Checksum,
		Version:       u.Version,
		Timestamp:     int64(u.Timestamp),
		OriginRefspec: u.OriginRefspec,
		Signatures:    nonNil(u.Signatures),
	})
}

func encodeJSON(w io.Writer, v interface{}) error {
	return refmt.NewMarshallerAtlased(json.EncodeOptions{Line: []byte("\n"), Indent: []byte("\t")}, w, Atlas).Marshal(v)
}

func nonNil(sigs []store.Signature) []store.Signature {
	if sigs == nil {
		return []store.Signature{}
	}
	return sigs
}

var tupleEncMode fxcbor.EncMode

func init() {
	var err error
	tupleEncMode, err = fxcbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("deployment: CBOR encoder initialization failed: " + err.Error())
	}
}

package distcache

import (
	"strconv"
	"strings"
	"time"
)

// Namespaces.
const (
	NamespaceSAM   = "sam"
	NamespaceUser  = "user"
	NamespaceYOLO  = "yolo"
	NamespaceTask  = "task"
	NamespaceCache = "cache"
)

// Artifact classes.
const (
	ClassEmbedding = "embedding"
	ClassLogit     = "logit"
	ClassSession   = "session"
	ClassResult    = "result"
	ClassBatch     = "batch"
	ClassLock      = "lock"
	ClassStatus    = "status"
	ClassGeneric   = "generic"
)

// Key addresses one cached artifact.
type Key struct {
	Namespace   string
	Class       string
	File        string   // file fingerprint or owning id
	Interaction []string // optional trailing segments
}

// NewKey builds a Key.
func NewKey(namespace, class, file string, interaction ...string) Key {
	return Key{Namespace: namespace, Class: class, File: file, Interaction: interaction}
}

// String renders "{namespace}:{class}:{file}[:{interaction}...]".
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(k.Namespace)
	b.WriteByte(':')
	b.WriteString(k.Class)
	b.WriteByte(':')
	b.WriteString(k.File)
	for _, s := range k.Interaction {
		b.WriteByte(':')
		b.WriteString(s)
	}
	return b.String()
}

// EmbeddingKey addresses the image embedding of a file.
func EmbeddingKey(fileFP string) Key {
	return NewKey(NamespaceSAM, ClassEmbedding, fileFP)
}

// LogitKey addresses the low-resolution mask logits for a click signature.
func LogitKey(fileFP, clickSignature string) Key {
	return NewKey(NamespaceSAM, ClassLogit, fileFP, clickSignature)
}

// SessionKey addresses a user's session.
func SessionKey(userID string) Key {
	return NewKey(NamespaceUser, ClassSession, userID)
}

// DetectionKey addresses the detection result of a page.
func DetectionKey(pageIdentity, filename string) Key {
	return NewKey(NamespaceYOLO, ClassResult, pageIdentity, filename)
}

// BatchKey addresses the progress of a batch over filename.
func BatchKey(userID, filename string) Key {
	return NewKey(NamespaceYOLO, ClassBatch, userID, filename)
}

// PageLockKey addresses the processing lock of one page.
func PageLockKey(userID, filename string, page int) Key {
	return NewKey(NamespaceYOLO, ClassLock, userID, filename, "page_"+strconv.Itoa(page))
}

// TaskKey addresses the status record of a message.
func TaskKey(messageID string) Key {
	return NewKey(NamespaceTask, ClassStatus, messageID)
}

// GenericKey addresses a caller-named value.
func GenericKey(name string) Key {
	return NewKey(NamespaceCache, ClassGeneric, name)
}

// TTLs holds the expiry of each artifact class.
type TTLs struct {
	Embedding time.Duration
	Logit     time.Duration
	Session   time.Duration
	Detection time.Duration
	Batch     time.Duration
	PageLock  time.Duration
	Task      time.Duration
	Generic   time.Duration
}

// DefaultTTLs returns the standard expiries.
func DefaultTTLs() TTLs {
	return TTLs{
		Embedding: time.Hour,
		Logit:     30 * time.Minute,
		Session:   24 * time.Hour,
		Detection: 2 * time.Hour,
		Batch:     24 * time.Hour,
		PageLock:  5 * time.Minute,
		Task:      24 * time.Hour,
		Generic:   time.Hour,
	}
}

// withDefaults fills zero fields from DefaultTTLs.
func (t TTLs) withDefaults() TTLs {
	d := DefaultTTLs()
	fill := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&t.Embedding, d.Embedding)
	fill(&t.Logit, d.Logit)
	fill(&t.Session, d.Session)
	fill(&t.Detection, d.Detection)
	fill(&t.Batch, d.Batch)
	fill(&t.PageLock, d.PageLock)
	fill(&t.Task, d.Task)
	fill(&t.Generic, d.Generic)
	return t
}

package registry

import "strings"

// Kind tells a binding whether a command only reads plugin state or runs
// work and takes a request body.
type Kind string

const (
	KindRead   Kind = "read"
	KindSubmit Kind = "submit"
)

const (
	suffixTaskSchema    = "/task_schema"
	suffixSamplePayload = "/sample_payload"
	suffixPayloadSchema = "/payload_schema"
	suffixRoutes        = "/api/routes"
	suffixAppMetadata   = "/api/app_metadata"
)

var readSuffixes = []string{
	suffixTaskSchema,
	suffixSamplePayload,
	suffixPayloadSchema,
	suffixRoutes,
	suffixAppMetadata,
}

// KindForPath derives a command's kind from its path: the auxiliary
// suffixes are reads, everything else is a submit.
func KindForPath(path string) Kind {
	for _, suffix := range readSuffixes {
		if strings.HasSuffix(path, suffix) {
			return KindRead
		}
	}
	return KindSubmit
}

package redisx

import "time"

const (
	// Change feed collection: hash {ns}:feed:{collection} field {id} -> JSON document
	KeyFeedCollection = "%s:feed:%s"

	// Set of collection names present in the feed: {ns}:feed:collections
	KeyFeedCollections = "%s:feed:collections"

	// Pub/sub channel carrying the paths touched by each write
	ChannelFeedChanges = "%s:feed:changes"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLDedup = 48 * time.Hour
)

package storage

import (
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
)

// AttrID names an integer attribute. Zero means "no attribute" and, in
// notify/drain filters, "any attribute".
type AttrID uint64

// AttrSemaphore is the counter used when a wait names no attribute.
var AttrSemaphore = Attr("SEMAPHORE")

var attrNames sync.Map // AttrID -> string

// Attr returns the stable id of a case-insensitive attribute name. Ids are
// derived from the name, so they survive restarts without a name table.
func Attr(name string) AttrID {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	id := AttrID(h.Sum64())
	if id == 0 {
		id = 1
	}
	attrNames.LoadOrStore(id, name)
	return id
}

func (a AttrID) String() string {
	if a == 0 {
		return ""
	}
	if v, ok := attrNames.Load(a); ok {
		return v.(string)
	}
	return "ATTR_" + strings.ToUpper(strconv.FormatUint(uint64(a), 16))
}

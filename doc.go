// Package arraystream decodes the elements of a JSON array as they arrive
// from a network response, without waiting for (or holding in memory) the
// whole response.
//
// The input is read from a chunk.Source, one chunk at a time, and only when the
// caller asks for an element that is not available yet.  Elements are located
// by nesting level: e.g. in
//
//	{"shops": [{"id": 1}, {"id": 2}]}
//
// the elements at level 2 are {"id": 1} and {"id": 2}.  Each element is then
// decoded on its own by a Decoder, encoding/json by default:
//
//	stream := arraystream.New[Shop](chunk.NewReaderSource(resp.Body), 2, 4096)
//	for shop, err := range stream.All(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(shop.ID)
//	}
//
// The package is organized into several sub-packages:
//
// - chunk: the Source interface and adapters (readers, gzip, deflate, zstd)
// - httpsource: HTTP client producing Sources from responses
// - internal/scanner: the depth scanner and the input buffer
// - internal/format: printing of elements for the CLI
//
// The CLI utility is in the directory cmd/jas.  You can install it with:
//
//	go install github.com/arnodel/arraystream/cmd/jas
package arraystream

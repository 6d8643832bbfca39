package stats

import (
	"net/http"
	_ "net/http/pprof"

	"github.com/omniscale/osmpatch/log"
)

// StartHttpPProf serves the pprof handlers on bind in the background.
func StartHttpPProf(bind string) {
	go func() {
		log.Printf("[warn] pprof server stopped: %s", http.ListenAndServe(bind, nil))
	}()
}

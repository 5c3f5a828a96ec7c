package udp

import (
	"context"
	"time"

	"github.com/treemana/godoh/log"
)

// cachePurger removes expired entries every interval. Lookups never return
// an expired entry, this only gives the memory back.
func (s *Server) cachePurger(ctx context.Context, interval time.Duration) {

	if interval <= 0 || !s.cache.Enabled() {
		return
	}

	var ticker = time.NewTicker(interval)
	defer ticker.Stop()

	var i uint32
	for {
		select {
		case <-ticker.C:
			i++
			n := s.cache.Purge()
			log.Sugar.Debugf("server cache purge %d, %d expired, %d left", i, n, s.cache.Len())
		case <-ctx.Done():
			log.Sugar.Info("server cache purge stop")
			return
		}
	}
}

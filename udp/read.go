package udp

import (
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/treemana/godoh/log"
	"github.com/treemana/godoh/model"
	"github.com/treemana/godoh/upstream"
	"github.com/treemana/godoh/util"
)

func (s *Server) produce(q *model.Query) {

	id, err := util.ReadID(q.Packet)

	var question []byte
	if err == nil {
		question, err = util.ExtractQuestion(q.Packet)
	}

	var header util.Header
	if err == nil {
		if header, err = util.ParseHeader(q.Packet); err == nil && header.Response() {
			err = errors.New("not a query")
		}
	}

	if err != nil {
		log.Sugar.Debugf("sn=%d, %s dropped, len=%d, error=[%v]", q.SN, q.RemoteAddr, len(q.Packet), err)
		return
	}

	q.ID = id
	q.Key = string(question)

	// local cache hit
	if response, age, ok := s.cache.Lookup(q.Key); ok {
		if err = util.AgeTTLs(response, uint32(age/time.Second)); err != nil {
			log.Sugar.Debugf("sn=%d, id=%d, age ttl error=[%v]", q.SN, q.ID, err)
		}
		q.Response = response
		q.Cached = true
		s.write(q)
		return
	}

	if log.Debug() {
		log.Sugar.Debugf("sn=%d, id=%d, query=[%s] MISS", q.SN, q.ID, util.QuestionString(q.Packet))
	}

	response, err := s.forwarder.Forward(s.ctx, q.Packet)
	if err != nil {
		log.Sugar.Warnf("sn=%d, id=%d, forward %s error=[%v]", q.SN, q.ID, upstream.KindOf(err), err)
		return
	}

	if header, err = util.ParseHeader(response); err != nil {
		log.Sugar.Warnf("sn=%d, id=%d, upstream response error=[%v]", q.SN, q.ID, err)
		return
	}

	if ttl, ok := util.MinAnswerTTL(response); ok && header.Rcode() == 0 && !header.Truncated() {
		s.cache.Insert(q.Key, response, ttl)
	}

	q.Response = response
	s.write(q)
}

// nextRetry doubles the wait after a failed read, from readRetryMin up to readRetryMax
func nextRetry(d time.Duration) time.Duration {
	if d <= 0 {
		return readRetryMin
	}
	if d *= 2; d > readRetryMax {
		d = readRetryMax
	}
	return d
}

func (s *Server) read() {
	bytes := make([]byte, maxPacketSize)
	var retry time.Duration
	for {
		n, remoteAddr, err := s.conn.ReadFromUDP(bytes)
		if err != nil {
			if !s.status.Load() || errors.Is(err, net.ErrClosed) {
				log.Sugar.Info("server read connection closed")
				break
			}
			retry = nextRetry(retry)
			log.Sugar.Errorf("server read error=[%v], retry in %s", err, retry)
			select {
			case <-time.After(retry):
			case <-s.ctx.Done():
			}
			continue
		}
		retry = 0

		if n <= 0 {
			log.Sugar.Debug("server read 0 byte")
			continue
		}

		if !s.status.Load() {
			log.Sugar.Info("server read after stopped")
			break
		}

		if s.inflight != nil && !s.inflight.TryAcquire(1) {
			log.Sugar.Warnf("server inflight limit reached, %s dropped", remoteAddr)
			continue
		}

		s.reqWG.Add(1)

		// make a copy of all bytes because ReadFromUDP() will overwrite contents of b on next call
		// we need the contents to survive the call because we're handling them in goroutine
		packet := make([]byte, n)
		copy(packet, bytes)

		q := &model.Query{
			SN:         s.serial.Add(1),
			Packet:     packet,
			RemoteAddr: remoteAddr,
		}

		go func() {
			s.produce(q)
			if s.inflight != nil {
				s.inflight.Release(1)
			}
			s.reqWG.Done()
		}()
	}
}

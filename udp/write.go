package udp

import (
	"github.com/treemana/godoh/log"
	"github.com/treemana/godoh/model"
	"github.com/treemana/godoh/util"
)

// write send q.Response to the requester with the transaction id of the query.
// WriteToUDP is safe for concurrent use, every query goroutine calls it.
func (s *Server) write(q *model.Query) {

	if err := util.WriteID(q.Response, q.ID); err != nil {
		log.Sugar.Warnf("sn=%d, id=%d, response error=[%v]", q.SN, q.ID, err)
		return
	}

	if _, err := s.conn.WriteToUDP(q.Response, q.RemoteAddr); err != nil {
		log.Sugar.Errorf("sn=%d, udp connection write error=[%v]", q.SN, err)
		return
	}

	if log.Debug() {
		var hit = "MISS"
		if q.Cached {
			hit = "HIT"
		}
		log.Sugar.Debugf("sn=%d, id=%d, query=[%s] %s, %d bytes to %s", q.SN, q.ID, util.QuestionString(q.Packet), hit, len(q.Response), q.RemoteAddr)
	}
}

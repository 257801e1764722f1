package dash

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/djstevess/arb-bot/internal/confirm"
	"github.com/djstevess/arb-bot/internal/types"
	"go.uber.org/zap"
)

const maxTrades = 50

// Controller is the bot surface the dashboard drives.
type Controller interface {
	Active() bool
	SetActive(on bool)
	// ExecuteOpportunity runs the manual path for a listed opportunity and returns once
	// the trade is submitted.
	ExecuteOpportunity(ctx context.Context, id string) (types.Trade, error)
	ContractState(ctx context.Context) (interface{}, error)
}

// Store keeps the latest published snapshots and fans them out to websocket clients.
type Store struct {
	mu     sync.RWMutex
	opps   []types.Opportunity
	trades []types.Trade // newest first, one entry per trade id
	pnl    types.PnL
	errs   []types.ErrorEntry
	at     time.Time

	hub *Hub
}

func NewStore() *Store { return &Store{hub: newHub()} }

func (s *Store) PublishOpportunities(_ context.Context, opps []types.Opportunity, at time.Time) error {
	s.mu.Lock()
	s.opps = append([]types.Opportunity(nil), opps...)
	s.at = at
	s.mu.Unlock()
	s.hub.broadcast("opportunities", opps)
	return nil
}

func (s *Store) PublishTrade(_ context.Context, t types.Trade) error {
	s.mu.Lock()
	out := make([]types.Trade, 0, len(s.trades)+1)
	out = append(out, t)
	for _, old := range s.trades {
		if old.ID != t.ID && len(out) < maxTrades {
			out = append(out, old)
		}
	}
	s.trades = out
	s.mu.Unlock()
	s.hub.broadcast("trade", t)
	return nil
}

func (s *Store) PublishLedger(_ context.Context, pnl types.PnL, _ time.Time) error {
	s.mu.Lock()
	s.pnl = pnl
	s.mu.Unlock()
	s.hub.broadcast("pnl", pnl)
	return nil
}

func (s *Store) PublishErrors(_ context.Context, errs []types.ErrorEntry) error {
	s.mu.Lock()
	s.errs = append([]types.ErrorEntry(nil), errs...)
	s.mu.Unlock()
	s.hub.broadcast("errors", errs)
	return nil
}

func (s *Store) Opportunities() ([]types.Opportunity, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Opportunity(nil), s.opps...), s.at
}

func (s *Store) Trades() []types.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Trade(nil), s.trades...)
}

func (s *Store) PnL() types.PnL {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pnl
}

func (s *Store) Errors() []types.ErrorEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.ErrorEntry(nil), s.errs...)
}

type executeRequest struct {
	ID string `json:"id"`
	// Confirmations the operator gave in the browser: 1, or 2 for large trades.
	Confirmations int `json:"confirmations"`
}

type activeRequest struct {
	Active bool `json:"active"`
}

// Option tunes who may drive the dashboard.
type Option func(*access)

// WithAllowedOrigins admits browser requests from origins other than the dashboard's own host.
func WithAllowedOrigins(origins ...string) Option {
	return func(a *access) {
		for _, o := range origins {
			if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
				a.origins[o] = struct{}{}
			}
		}
	}
}

// WithToken requires the X-Dash-Token header on state-changing routes.
func WithToken(token string) Option {
	return func(a *access) { a.token = token }
}

type access struct {
	origins map[string]struct{}
	token   string
}

// originOK admits requests without an Origin header (curl, tradewatch), from the
// dashboard's own host, or from an allowed origin.
func (a *access) originOK(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if _, ok := a.origins[origin]; ok {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host != "" && strings.EqualFold(u.Host, r.Host)
}

// guarded wraps the routes that trade or toggle the bot.
func (a *access) guarded(log *zap.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.originOK(r) {
			log.Warn("cross-origin dashboard write refused",
				zap.String("origin", r.Header.Get("Origin")), zap.String("path", r.URL.Path))
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "cross-origin request refused"})
			return
		}
		if a.token != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(tokenHeader)), []byte(a.token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing or bad " + tokenHeader})
			return
		}
		next(w, r)
	}
}

const tokenHeader = "X-Dash-Token"

// Handler builds the dashboard mux. Read routes are open to any origin; writes and
// the websocket are same-origin unless opts allow more.
func Handler(s *Store, ctl Controller, log *zap.Logger, opts ...Option) http.Handler {
	acc := &access{origins: make(map[string]struct{})}
	for _, o := range opts {
		o(acc)
	}
	mux := http.NewServeMux()

	mux.Handle("GET /api/opportunities", readCORS(func(w http.ResponseWriter, r *http.Request) {
		opps, at := s.Opportunities()
		if opps == nil {
			opps = []types.Opportunity{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"updatedAt": at, "opportunities": opps})
	}))
	mux.Handle("GET /api/trades", readCORS(func(w http.ResponseWriter, r *http.Request) {
		trades := s.Trades()
		if trades == nil {
			trades = []types.Trade{}
		}
		writeJSON(w, http.StatusOK, trades)
	}))
	mux.Handle("GET /api/pnl", readCORS(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.PnL())
	}))
	mux.Handle("GET /api/errors", readCORS(func(w http.ResponseWriter, r *http.Request) {
		errs := s.Errors()
		if errs == nil {
			errs = []types.ErrorEntry{}
		}
		writeJSON(w, http.StatusOK, errs)
	}))
	mux.Handle("GET /api/contract", readCORS(func(w http.ResponseWriter, r *http.Request) {
		st, err := ctl.ContractState(r.Context())
		if err != nil {
			writeJSON(w, statusFor(err), map[string]interface{}{"error": err.Error(), "state": st})
			return
		}
		writeJSON(w, http.StatusOK, st)
	}))
	mux.Handle("GET /api/bot", readCORS(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, activeRequest{Active: ctl.Active()})
	}))
	mux.HandleFunc("POST /api/bot/active", acc.guarded(log, func(w http.ResponseWriter, r *http.Request) {
		var req activeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad body: " + err.Error()})
			return
		}
		ctl.SetActive(req.Active)
		log.Info("bot activity toggled from dashboard", zap.Bool("active", req.Active))
		writeJSON(w, http.StatusOK, activeRequest{Active: ctl.Active()})
	}))
	mux.HandleFunc("POST /api/execute", acc.guarded(log, func(w http.ResponseWriter, r *http.Request) {
		var req executeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must carry an opportunity id"})
			return
		}
		ctx := confirm.WithApproval(r.Context(), req.Confirmations)
		t, err := ctl.ExecuteOpportunity(ctx, req.ID)
		if err != nil {
			log.Warn("dashboard execute failed", zap.String("opportunity", req.ID), zap.Error(err))
			body := map[string]interface{}{"error": err.Error()}
			if t.ID != "" {
				body["trade"] = t
			}
			writeJSON(w, statusFor(err), body)
			return
		}
		writeJSON(w, http.StatusAccepted, t)
	}))
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		s.hub.serve(w, r, s, acc.originOK, log)
	})
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, indexHTML)
	})
	return mux
}

// ErrNotFound is returned by a Controller for unknown opportunity ids.
var ErrNotFound = types.ErrUnknownOpportunity

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrDeclined):
		return http.StatusForbidden
	case errors.Is(err, types.ErrTradeInProgress):
		return http.StatusConflict
	case errors.Is(err, types.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, types.ErrInsufficientGas), errors.Is(err, types.ErrPolicyRejected):
		return http.StatusPreconditionFailed
	case errors.Is(err, types.ErrExecutionFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// StartHTTP serves the dashboard until ctx ends.
func StartHTTP(ctx context.Context, s *Store, ctl Controller, addr string, log *zap.Logger, opts ...Option) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(s, ctl, log, opts...),
		ReadHeaderTimeout: 3 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.hub.closeAll()
		_ = srv.Close()
	}()

	log.Info("dashboard listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dash http: %w", err)
	}
	return nil
}

// readCORS opens a read-only route to any origin.
func readCORS(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET")
		next(w, r)
	})
}

const indexHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <title>Flash Loan Arbitrage</title>
  <style>
    :root { --bg:#f8fafc; --card:#fff; --muted:#6b7280; --chip:#e5e7eb; }
    body{margin:0;background:var(--bg);font:14px/1.4 ui-sans-serif,system-ui,-apple-system,Segoe UI,Roboto,Ubuntu; color:#111827;}
    .wrap{max-width:1080px;margin:24px auto;padding:0 16px;}
    .hdr{display:flex;align-items:flex-end;justify-content:space-between;margin-bottom:12px;}
    .state{font-size:12px;padding:2px 8px;border-radius:999px;background:#d1fae5;color:#065f46;}
    table{width:100%;border-collapse:collapse;background:var(--card);border-radius:16px;overflow:hidden;box-shadow:0 10px 30px rgba(0,0,0,.06);margin-bottom:16px;}
    thead{background:#f3f4f6;} th,td{padding:10px 12px;text-align:left;} tbody tr{border-top:1px solid #f3f4f6;}
    .chip{display:inline-block;font-size:12px;padding:2px 8px;background:var(--chip);border-radius:999px;color:#374151;}
    .ok{color:#166534;} .bad{color:#991b1b;}
    .sub{color:var(--muted);font-size:12px;margin:0;}
    button{border:0;border-radius:8px;padding:4px 10px;background:#111827;color:#fff;cursor:pointer;}
  </style>
</head>
<body>
<div class="wrap">
  <div class="hdr">
    <div>
      <h1 style="margin:0;font-size:22px;font-weight:600">Flash Loan Arbitrage</h1>
      <p class="sub">P&amp;L: <strong id="pnl">$0.00</strong> over <span id="done">0</span> trades</p>
    </div>
    <div><button id="toggle">pause</button> <span id="state" class="state">connecting</span></div>
  </div>
  <table>
    <thead><tr><th>Pair</th><th>Buy</th><th>Sell</th><th>Spread</th><th>Net</th><th>Confidence</th><th></th></tr></thead>
    <tbody id="opps"></tbody>
  </table>
  <table>
    <thead><tr><th>Pair</th><th>Status</th><th>Amount</th><th>Profit</th><th>Tx</th><th style="text-align:right">Updated</th></tr></thead>
    <tbody id="trades"></tbody>
  </table>
  <div id="errors" class="sub"></div>
</div>
<script>
  var opps = [], trades = [];
  function usd(x){ return (x==null||isNaN(x)) ? '-' : ('$'+Number(x).toFixed(2)); }
  function oppRow(o){
    return '<tr><td><strong>'+o.pair.base.symbol+'/'+o.pair.quote.symbol+'</strong></td>'
      + '<td><span class="chip">'+o.buyVenue+'</span> '+usd(o.buyPrice)+'</td>'
      + '<td><span class="chip">'+o.sellVenue+'</span> '+usd(o.sellPrice)+'</td>'
      + '<td>'+o.grossSpreadPct.toFixed(3)+'%</td>'
      + '<td class="ok">'+usd(o.netProfitUSD)+' ('+o.netProfitPct.toFixed(3)+'%)</td>'
      + '<td>'+o.confidence.toFixed(0)+'</td>'
      + '<td><button onclick="exec(\''+o.id+'\','+o.tradeSizeUSD+')">execute</button></td></tr>';
  }
  function tradeRow(t){
    var cls = t.status==='completed' ? 'ok' : (t.status==='failed' ? 'bad' : '');
    return '<tr><td>'+t.pair+'</td><td class="'+cls+'">'+t.status+(t.error?' · '+t.error:'')+'</td>'
      + '<td>'+usd(t.amountUSD)+'</td><td>'+(t.profit!=null?usd(t.profit):'-')+'</td>'
      + '<td style="font-family:monospace;font-size:12px">'+(t.txRef||'').slice(0,12)+'</td>'
      + '<td style="text-align:right;color:#6B7280;font-size:12px">'+new Date(t.updatedAt).toLocaleTimeString()+'</td></tr>';
  }
  function render(){
    document.getElementById('opps').innerHTML = opps.map(oppRow).join('');
    document.getElementById('trades').innerHTML = trades.map(tradeRow).join('');
  }
  function hdrs(){
    var h = {'Content-Type':'application/json'};
    var tok = localStorage.getItem('dashToken');
    if(tok){ h['X-Dash-Token'] = tok; }
    return h;
  }
  async function exec(id, size){
    if(!confirm('Execute opportunity for '+usd(size)+'?')) return;
    var n = 1;
    if(size > 50){ if(!confirm('Large trade of '+usd(size)+'. Confirm again.')) return; n = 2; }
    var res = await fetch('/api/execute',{method:'POST',headers:hdrs(),body:JSON.stringify({id:id,confirmations:n})});
    if(!res.ok){ var e = await res.json(); alert(e.error); }
  }
  document.getElementById('toggle').onclick = async function(){
    var cur = await (await fetch('/api/bot')).json();
    var res = await fetch('/api/bot/active',{method:'POST',headers:hdrs(),body:JSON.stringify({active:!cur.active})});
    var st = await res.json();
    this.textContent = st.active ? 'pause' : 'resume';
  };
  function connect(){
    var ws = new WebSocket((location.protocol==='https:'?'wss://':'ws://')+location.host+'/ws');
    ws.onopen = function(){ document.getElementById('state').textContent = 'live'; };
    ws.onclose = function(){ document.getElementById('state').textContent = 'offline'; setTimeout(connect, 2000); };
    ws.onmessage = function(ev){
      var m = JSON.parse(ev.data);
      if(m.type==='opportunities'){ opps = m.data||[]; }
      if(m.type==='trade'){ trades = [m.data].concat(trades.filter(function(t){return t.id!==m.data.id;})).slice(0,50); }
      if(m.type==='trades'){ trades = m.data||[]; }
      if(m.type==='pnl'){ document.getElementById('pnl').textContent = usd(m.data.totalUSD); document.getElementById('done').textContent = m.data.completed; }
      if(m.type==='errors'){ document.getElementById('errors').innerHTML = (m.data||[]).map(function(e){return e.source+': '+e.message;}).join('<br>'); }
      render();
    };
  }
  connect();
</script>
</body>
</html>`

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ridepool/carpool/internal/carpool"
	"github.com/ridepool/carpool/internal/dispatch"
	"github.com/ridepool/carpool/internal/models"
	"github.com/ridepool/carpool/internal/rides"
)

// CallerHeader carries the authenticated caller address. The API trusts it
// as-is; authentication happens in front of this service.
const CallerHeader = "X-Caller-Address"

type Server struct {
	System   *carpool.System
	WSReg    *dispatch.WSRegistry
	logger   *logrus.Entry
	validate *validator.Validate
	mux      *mux.Router
}

func NewServer(sys *carpool.System, ws *dispatch.WSRegistry, logger *logrus.Logger) *Server {
	s := &Server{
		System:   sys,
		WSReg:    ws,
		logger:   logger.WithField("component", "http"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{address}", s.handleWS)

	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/rides", s.handleCreateRide).Methods(http.MethodPost)
	api.HandleFunc("/rides", s.handleAvailableRides).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}/status", s.handleRideStatus).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}/fare", s.handleFare).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}/bookings", s.handleRideBookings).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}/bookings/{passenger}", s.handleGetBooking).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}/escrow/{payer}", s.handleGetEscrow).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}/book", s.handleBookRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/cancel", s.handleCancelRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/bookings/cancel", s.handleCancelBooking).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/complete", s.handleCompleteRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/rate", s.handleRateDriver).Methods(http.MethodPost)

	api.HandleFunc("/users/rate", s.handleRateUser).Methods(http.MethodPost)
	api.HandleFunc("/users/{address}/reputation", s.handleReputation).Methods(http.MethodGet)
	api.HandleFunc("/users/{address}/bookings", s.handlePassengerBookings).Methods(http.MethodGet)
	api.HandleFunc("/drivers/{address}", s.handleDriverInfo).Methods(http.MethodGet)
	api.HandleFunc("/drivers/{address}/rides", s.handleDriverRides).Methods(http.MethodGet)

	api.HandleFunc("/tokens", s.handleTokenInfo).Methods(http.MethodGet)
	api.HandleFunc("/tokens/mint", s.handleMint).Methods(http.MethodPost)
	api.HandleFunc("/tokens/burn", s.handleBurn).Methods(http.MethodPost)
	api.HandleFunc("/tokens/transfer", s.handleTransfer).Methods(http.MethodPost)
	api.HandleFunc("/tokens/authorize", s.handleAuthorize).Methods(http.MethodPost)
	api.HandleFunc("/tokens/{address}", s.handleTokenBalance).Methods(http.MethodGet)

	api.HandleFunc("/wallets/deposit", s.handleDeposit).Methods(http.MethodPost)
	api.HandleFunc("/wallets/{address}", s.handleWalletBalance).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createRideRequest struct {
	Pickup        string `json:"pickup" validate:"required,max=256"`
	Destination   string `json:"destination" validate:"required,max=256"`
	DepartureTime int64  `json:"departure_time"`
	MaxPassengers uint32 `json:"max_passengers"`
	PricePerSeat  uint64 `json:"price_per_seat"`
	Notes         string `json:"notes" validate:"max=1024"`
}

type bookRideRequest struct {
	Seats uint32 `json:"seats"`
	Value uint64 `json:"value"`
}

type cancelBookingRequest struct {
	WithinWindow bool `json:"within_24_hours"`
}

type completeRideRequest struct {
	Passenger string `json:"passenger" validate:"required"`
}

type rateDriverRequest struct {
	Driver string `json:"driver" validate:"required"`
	Rating uint8  `json:"rating"`
}

type rateUserRequest struct {
	Target string `json:"target" validate:"required"`
	Rating uint8  `json:"rating"`
}

type tokenAmountRequest struct {
	To     string `json:"to" validate:"required"`
	Amount uint64 `json:"amount"`
}

type burnRequest struct {
	Amount uint64 `json:"amount"`
}

type authorizeRequest struct {
	System     string `json:"system" validate:"required"`
	Authorized bool   `json:"authorized"`
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req createRideRequest
	if !s.decode(w, r, &req) {
		return
	}
	ride, err := s.System.CreateRide(r.Context(), caller, rides.RideParams{
		Pickup:        req.Pickup,
		Destination:   req.Destination,
		DepartureTime: req.DepartureTime,
		MaxPassengers: req.MaxPassengers,
		PricePerSeat:  req.PricePerSeat,
		Notes:         req.Notes,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleAvailableRides(w http.ResponseWriter, r *http.Request) {
	out := s.System.AvailableRides()
	if out == nil {
		out = []models.Ride{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	id, ok := rideID(w, r)
	if !ok {
		return
	}
	ride, err := s.System.Ride(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleRideStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := rideID(w, r)
	if !ok {
		return
	}
	st, err := s.System.RideStatus(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ride_id": id, "status": st})
}

func (s *Server) handleFare(w http.ResponseWriter, r *http.Request) {
	id, ok := rideID(w, r)
	if !ok {
		return
	}
	seats, err := strconv.ParseUint(r.URL.Query().Get("seats"), 10, 32)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "InvalidSeats", "seats query parameter must be a positive integer")
		return
	}
	fare, err := s.System.Fare(id, uint32(seats))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ride_id": id, "seats": seats, "amount": fare})
}

func (s *Server) handleRideBookings(w http.ResponseWriter, r *http.Request) {
	id, ok := rideID(w, r)
	if !ok {
		return
	}
	out, err := s.System.BookingsByRide(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := rideID(w, r)
	if !ok {
		return
	}
	b, err := s.System.Booking(id, pathAddress(r, "passenger"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	id, ok := rideID(w, r)
	if !ok {
		return
	}
	e, err := s.System.Escrow(id, pathAddress(r, "payer"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleBookRide(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, ok := rideID(w, r)
	if !ok {
		return
	}
	var req bookRideRequest
	if !s.decode(w, r, &req) {
		return
	}
	receipt, err := s.System.BookRide(r.Context(), caller, id, req.Seats, req.Value)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, ok := rideID(w, r)
	if !ok {
		return
	}
	refunded, err := s.System.CancelRide(r.Context(), caller, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if refunded == nil {
		refunded = []models.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ride_id": id, "refunded": refunded})
}

func (s *Server) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, ok := rideID(w, r)
	if !ok {
		return
	}
	var req cancelBookingRequest
	if !s.decode(w, r, &req) {
		return
	}
	b, err := s.System.CancelBooking(r.Context(), caller, id, req.WithinWindow)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleCompleteRide(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, ok := rideID(w, r)
	if !ok {
		return
	}
	var req completeRideRequest
	if !s.decode(w, r, &req) {
		return
	}
	b, err := s.System.CompleteRide(r.Context(), caller, id, models.NormalizeAddress(req.Passenger))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleRateDriver(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, ok := rideID(w, r)
	if !ok {
		return
	}
	var req rateDriverRequest
	if !s.decode(w, r, &req) {
		return
	}
	driver := models.NormalizeAddress(req.Driver)
	if err := s.System.RateDriver(r.Context(), caller, driver, req.Rating, id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"driver": driver, "average_rating": s.System.AverageRating(driver)})
}

func (s *Server) handleRateUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req rateUserRequest
	if !s.decode(w, r, &req) {
		return
	}
	target := models.NormalizeAddress(req.Target)
	if err := s.System.RateUser(r.Context(), caller, target, req.Rating); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"target": target, "average_rating": s.System.AverageRating(target)})
}

func (s *Server) handleReputation(w http.ResponseWriter, r *http.Request) {
	rec := s.System.Reputation(pathAddress(r, "address"))
	writeJSON(w, http.StatusOK, map[string]any{"record": rec, "average_rating": rec.AverageRating()})
}

func (s *Server) handlePassengerBookings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rides": s.System.BookingsByPassenger(pathAddress(r, "address"))})
}

func (s *Server) handleDriverInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.System.DriverInfo(pathAddress(r, "address")))
}

func (s *Server) handleDriverRides(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rides": s.System.RidesByDriver(pathAddress(r, "address"))})
}

func (s *Server) handleTokenInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.System.TokenInfo())
}

func (s *Server) handleTokenBalance(w http.ResponseWriter, r *http.Request) {
	addr := pathAddress(r, "address")
	writeJSON(w, http.StatusOK, map[string]any{
		"holder":         addr,
		"balance":        s.System.TokenBalance(addr),
		"driver_rewards": s.System.DriverRewards(addr),
	})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	s.tokenAmount(w, r, s.System.Mint)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	s.tokenAmount(w, r, s.System.Transfer)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req tokenAmountRequest
	if !s.decode(w, r, &req) {
		return
	}
	to := models.NormalizeAddress(req.To)
	if err := s.System.Deposit(r.Context(), caller, to, req.Amount); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"owner": to, "balance": s.System.WalletBalance(to)})
}

func (s *Server) tokenAmount(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, caller, to models.Address, amount uint64) error) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req tokenAmountRequest
	if !s.decode(w, r, &req) {
		return
	}
	to := models.NormalizeAddress(req.To)
	if err := op(r.Context(), caller, to, req.Amount); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"holder": to, "balance": s.System.TokenBalance(to)})
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req burnRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.System.Burn(r.Context(), caller, req.Amount); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"holder": caller, "balance": s.System.TokenBalance(caller)})
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req authorizeRequest
	if !s.decode(w, r, &req) {
		return
	}
	system := models.NormalizeAddress(req.System)
	if err := s.System.Authorize(r.Context(), caller, system, req.Authorized); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"system": system, "authorized": req.Authorized})
}

func (s *Server) handleWalletBalance(w http.ResponseWriter, r *http.Request) {
	addr := pathAddress(r, "address")
	writeJSON(w, http.StatusOK, map[string]any{"owner": addr, "balance": s.System.WalletBalance(addr)})
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	addr := pathAddress(r, "address")
	if addr.IsZero() {
		writeProblem(w, http.StatusBadRequest, "InvalidAddress", "address must not be empty")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("ws upgrade failed")
		return
	}
	s.WSReg.Add(addr, conn)
	go func() {
		defer func() {
			s.WSReg.Remove(addr, conn)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) caller(w http.ResponseWriter, r *http.Request) (models.Address, bool) {
	addr := models.NormalizeAddress(r.Header.Get(CallerHeader))
	if addr.IsZero() {
		writeProblem(w, http.StatusUnauthorized, "MissingCaller", CallerHeader+" header is required")
		return "", false
	}
	return addr, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeProblem(w, http.StatusBadRequest, "BadRequest", err.Error())
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeProblem(w, http.StatusBadRequest, "ValidationFailed", err.Error())
		return false
	}
	return true
}

func rideID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "InvalidRideID", "ride id must be an unsigned integer")
		return 0, false
	}
	return id, true
}

func pathAddress(r *http.Request, key string) models.Address {
	return models.NormalizeAddress(mux.Vars(r)[key])
}

func statusFor(err error) int {
	switch models.KindOf(err) {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindFunds:
		return http.StatusPaymentRequired
	case models.KindUnauthorized:
		return http.StatusForbidden
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	var e *models.Error
	if errors.As(err, &e) {
		writeProblem(w, status, e.Code, e.Message)
		return
	}
	s.logger.WithError(err).Error("request failed")
	writeProblem(w, status, "Internal", "internal error")
}

func writeProblem(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": code, "message": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

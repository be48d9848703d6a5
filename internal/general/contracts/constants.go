package contracts

// Exchanges
const (
	ExchangeRideTopic   = "ride_topic"
	ExchangeDriverTopic = "driver_topic"
)

// Queues
const (
	QueueRideRequests    = "ride_requests"
	QueueRideStatus      = "ride_status"
	QueueDriverResponses = "driver_responses"
	QueueDriverStatus    = "driver_status"
)

// Routing patterns
const (
	RouteRideRequestPrefix  = "ride.request."    // {vehicle_type}
	RouteRideStatusPrefix   = "ride.status."     // {status}
	RouteDriverRespPrefix   = "driver.response." // {ride_id}
	RouteDriverStatusPrefix = "driver.status."   // {driver_id}
)

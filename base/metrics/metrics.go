package metrics

const (
	ClientProbesSentH    = "The total number of probe requests sent"
	ClientProbesSentN    = "clockkit_client_probes_sent"
	ClientRespsAcceptedH = "The total number of probe responses accepted"
	ClientRespsAcceptedN = "clockkit_client_resps_accepted"
	ClientTimeoutsH      = "The total number of probes that timed out"
	ClientTimeoutsN      = "clockkit_client_timeouts"
	ClientTransportErrsH = "The total number of probes that failed with a transport error"
	ClientTransportErrsN = "clockkit_client_transport_errors"
	ClientProtocolErrsH  = "The total number of malformed or unexpected responses"
	ClientProtocolErrsN  = "clockkit_client_protocol_errors"
	ClientAcksSentH      = "The total number of acknowledgments sent"
	ClientAcksSentN      = "clockkit_client_acks_sent"

	SyncOffsetH          = "The current estimated offset to the reference clock in seconds"
	SyncOffsetN          = "clockkit_sync_offset"
	SyncDriftH           = "The current estimated drift to the reference clock in seconds per second"
	SyncDriftN           = "clockkit_sync_drift"
	SyncCorrH            = "The phase correction applied by the most recent synchronization step in seconds"
	SyncCorrN            = "clockkit_sync_corr"
	SyncStateH           = "The current synchronization state (0 unsynchronized, 1 synchronized, 2 phase panic, 3 update panic)"
	SyncStateN           = "clockkit_sync_state"
	SyncSamplesAcceptedH = "The total number of samples accepted by the sample filter"
	SyncSamplesAcceptedN = "clockkit_sync_samples_accepted"
	SyncSamplesRejectedH = "The total number of samples rejected by the sample filter"
	SyncSamplesRejectedN = "clockkit_sync_samples_rejected"
	SyncPhasePanicsH     = "The total number of transitions into the phase panic state"
	SyncPhasePanicsN     = "clockkit_sync_phase_panics"
	SyncUpdatePanicsH    = "The total number of transitions into the update panic state"
	SyncUpdatePanicsN    = "clockkit_sync_update_panics"

	ServerPktsReceivedH = "The total number of packets received"
	ServerPktsReceivedN = "clockkit_server_pkts_received"
	ServerReqsAcceptedH = "The total number of probe requests accepted"
	ServerReqsAcceptedN = "clockkit_server_reqs_accepted"
	ServerReqsServedH   = "The total number of probe requests served"
	ServerReqsServedN   = "clockkit_server_reqs_served"
	ServerAcksReceivedH = "The total number of acknowledgments received"
	ServerAcksReceivedN = "clockkit_server_acks_received"
	ServerClientsH      = "The current number of acknowledging clients"
	ServerClientsN      = "clockkit_server_clients"
)

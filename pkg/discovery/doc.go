// Package discovery finds messenger servers on the local network.
//
// Two backends produce the same DiscoveredServer records.
//
// # UDP broadcast
//
// Servers bind the discovery port (9000) with SO_REUSEADDR and broadcast a
// ServerAnnounce datagram every broadcast interval. A client binds an
// ephemeral port, broadcasts one ClientRequest and collects ServerAnnounce
// and ServerResponse datagrams until the timeout elapses. Datagrams are CBOR
// records with integer keys:
//
//	{1: kind, 2: server_id, 3: server_name, 4: server_port, 5: timestamp}
//
// Results are deduplicated by server id; a repeated id refreshes last_seen.
//
// # mDNS (_tcpmsg._tcp)
//
// Servers register one DNS-SD instance named after the server with TXT
// records id=<uuid> and name=<server name>. Browsing yields one record per
// instance, merging addresses seen on several interfaces.
package discovery

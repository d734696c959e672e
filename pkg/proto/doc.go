/*
Package proto implements the tag bus binary frame protocol.

Frame

A single TCP byte stream carries length-prefixed frames. Every frame
starts with a fixed 18-byte big-endian header:

        |0|1|2|3|4|5|6|7|0|1|2|3|4|5|6|7|0|1|2|3|4|5|6|7|0|1|2|3|4|5|6|7|
   byte |              0|              1|              2|              3|
  ------+---------------+---------------+---------------+---------------+
      0 | command       | tag id                        | flags         |
  ------+---------------+-------------------------------+---------------+
      4 | payload length                                                |
  ------+---------------------------------------------------------------+
      8 | time_us (microseconds since the Unix epoch)                   |
     12 |                                                               |
  ------+-------------------------------+-------------------------------+
     16 | bus id                        |  payload follows ...
  ------+-------------------------------+

  command:
    0x01  ID    query/inform a tag id; payload is the tag name
    0x02  SET   publish a value; payload is a typed value
    0x03  GET   ask for the current value; empty payload
    0x04  RTA   request to author; payload is a typed value and the
                bus id field carries the requester's identity
    0x05  SUB   subscribe to updates; empty payload
    0x06  ERR   diagnostic text from the server
    0x07  LIST  payload is a name pattern; the reply carries matching
                names joined by spaces

  flags:
    bit 0  CONTINUATION  more fragments of this message follow
    bit 1  LAST          final fragment of a fragmented message

A payload larger than the connection's transmit unit (TUS, negotiated
by the hello exchange, default 55000 bytes) is split across frames that
share command, tag id, time_us and bus id. Every fragment except the
final one sets CONTINUATION; the final fragment of a fragmented message
sets LAST. A single-frame message carries no flags.

Typed values

SET and RTA payloads hold one typed value: a kind byte followed by the
body.

  kind:
    0  int64, 8 bytes signed big-endian
    1  float64, 8 bytes IEEE-754 big-endian
    2  text, 4-byte length then UTF-8
    3  bytes, 4-byte length then raw
    4  mapping or sequence, 4-byte length then canonical JSON

An empty payload is the null indicator; a GET or SUB of a never-set tag
is answered with an empty SET.

Hello

The first frame in each direction is an ID frame with tag id 0 whose
payload is a kind-4 JSON document. The server opens with

    {"proto":1,"tus":55000}

carrying the assigned connection id in the bus id field; the client
answers with its own tus plus "module" and "instance" identity. Both
sides fragment against min(own tus, peer tus) from then on.
*/
package proto
